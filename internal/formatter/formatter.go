// Package formatter renders snapshots, diffs, duplicate groups, plans and reports as JSON, CSV,
// Markdown or plain text.
package formatter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// Format is an export format.
type Format string

const (
	JSON     Format = "json"
	CSV      Format = "csv"
	Markdown Format = "markdown"
	Text     Format = "txt"
)

// ParseFormat accepts json, csv, markdown/md and txt/text; empty means json.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return JSON, nil
	case "csv":
		return CSV, nil
	case "markdown", "md":
		return Markdown, nil
	case "txt", "text":
		return Text, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	if f == Markdown {
		return "md"
	}
	return string(f)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case Markdown:
		return "text/markdown; charset=utf-8"
	case Text:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// WriteSnapshot writes snap to w in format f.
func WriteSnapshot(w io.Writer, snap models.Snapshot, f Format) error {
	switch f {
	case CSV:
		return snapshotCSV(w, snap)
	case Markdown:
		return snapshotMarkdown(w, snap)
	case Text:
		return snapshotText(w, snap)
	default:
		return writeJSON(w, snap)
	}
}

// ExportSnapshot writes snap to dir as {platform}_{playlist}_r{revision}.{ext} and returns the path.
func ExportSnapshot(snap models.Snapshot, f Format, dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s_r%d.%s", snap.Platform, snap.PlaylistID, snap.Revision, f.Extension()))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if err := WriteSnapshot(file, snap, f); err != nil {
		return "", err
	}
	return path, file.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// snapshotCSV writes one row per track: Position, Title, Artist, Album, Duration, ISRC, PlatformID, Fingerprint.
func snapshotCSV(w io.Writer, snap models.Snapshot) error {
	writer := csv.NewWriter(w)

	headers := []string{"Position", "Title", "Artist", "Album", "DurationMS", "ISRC", "PlatformID", "Fingerprint"}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for i, track := range snap.Tracks {
		record := []string{
			strconv.Itoa(i + 1),
			track.Title,
			track.Artist,
			track.Album,
			strconv.FormatInt(track.DurationMS, 10),
			track.ISRC,
			track.PlatformID,
			track.Fingerprint,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

func snapshotMarkdown(w io.Writer, snap models.Snapshot) error {
	pw := &printer{w: w}
	pw.printf("# %s\n\n", name(snap))
	pw.printf("**Playlist**: `%s`\n", snap.Ref())
	pw.printf("**Revision**: %d\n", snap.Revision)
	pw.printf("**Captured**: %s\n", snap.CapturedAt.Format("2006-01-02 15:04:05 MST"))
	pw.printf("**Tracks**: %d\n\n", len(snap.Tracks))

	pw.printf("## Tracks\n\n")
	for i, track := range snap.Tracks {
		albumPart := ""
		if track.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album)
		}
		pw.printf("%d. %s - %s%s [%s]\n", i+1, track.Artist, track.Title, albumPart, shared.FormatDuration(track.DurationMS))
	}
	return pw.err
}

func snapshotText(w io.Writer, snap models.Snapshot) error {
	pw := &printer{w: w}
	pw.printf("Playlist: %s (%s)\n", name(snap), snap.Ref())
	pw.printf("Revision: %d\n", snap.Revision)
	pw.printf("Tracks: %d\n\n", len(snap.Tracks))
	for i, track := range snap.Tracks {
		pw.printf("%d. %s - %s\n", i+1, track.Artist, track.Title)
	}
	return pw.err
}

func name(snap models.Snapshot) string {
	if snap.Name != "" {
		return snap.Name
	}
	return snap.PlaylistID
}

// printer remembers the first write error so renderers can check once at the end.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
