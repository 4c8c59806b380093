// Proxy header capture: reads request headers copied from browser DevTools ("Copy as cURL")
// so the proxy adapter can replay an authenticated browser session.
package shared

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
)

var (
	curlHeaderRe = regexp.MustCompile(`(?:-H|--header)\s+(?:'([^']+)'|"([^"]+)")`)
	curlCookieRe = regexp.MustCompile(`(?:-b|--cookie)\s+(?:'([^']+)'|"([^"]+)")`)
)

// ParseCurlCommand extracts headers and cookies from a cURL command line.
//
// Cookies given with -b are folded into the Cookie header.
func ParseCurlCommand(data []byte) (http.Header, error) {
	cmd := strings.ReplaceAll(string(data), "\\\n", " ")
	cmd = strings.ReplaceAll(cmd, "\\", "")

	headers := make(http.Header)
	for _, match := range curlHeaderRe.FindAllStringSubmatch(cmd, -1) {
		key, value, ok := strings.Cut(firstGroup(match), ":")
		if !ok {
			continue
		}
		headers.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	if match := curlCookieRe.FindStringSubmatch(cmd); match != nil {
		headers.Set("Cookie", firstGroup(match))
	}

	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no headers found in curl command", ErrInvalidInput)
	}
	return headers, nil
}

// LoadProxyHeaders reads a header capture from path.
//
// Files ending in .json hold a flat object of header names to values; anything else is treated as a cURL command.
func LoadProxyHeaders(path string) (http.Header, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read header file: %w", err)
	}

	if !strings.HasSuffix(path, ".json") {
		return ParseCurlCommand(content)
	}

	var raw map[string]string
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("%w: header file is not a JSON object: %v", ErrInvalidInput, err)
	}
	headers := make(http.Header, len(raw))
	for k, v := range raw {
		headers.Set(k, v)
	}
	return headers, nil
}

func firstGroup(match []string) string {
	if match[1] != "" {
		return match[1]
	}
	return match[2]
}
