package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/audioarchitect/internal/server"
	"github.com/desertthunder/audioarchitect/internal/services"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const authTimeout = 2 * time.Minute

// SpotifyAuth performs OAuth2 authentication flow for Spotify.
//
// Starts a local callback server on the redirect URI's host, opens the browser for user
// authorization, and saves the exchanged tokens to the config file.
func (r *Runner) SpotifyAuth(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return fmt.Errorf("%w: spotify client_id and client_secret must be set in %s", shared.ErrMissingCredentials, r.configPath)
	}

	spotify, err := services.NewSpotifyPlatform(map[string]string{
		"client_id":     creds.ClientID,
		"client_secret": creds.ClientSecret,
		"redirect_uri":  creds.RedirectURI,
	}, services.WithSpotifyHTTPClient(r.httpClient))
	if err != nil {
		return fmt.Errorf("failed to create Spotify adapter: %w", err)
	}

	redirect, err := url.Parse(spotify.OAuthConfig().RedirectURL)
	if err != nil {
		return fmt.Errorf("%w: redirect_uri: %v", shared.ErrInvalidConfig, err)
	}

	state, err := newState()
	if err != nil {
		return fmt.Errorf("failed to generate state token: %w", err)
	}

	handler := server.NewOAuthHandler(spotify.OAuthConfig(), state, redirect.Path)
	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	srv := &http.Server{Handler: server.NewCallbackRouter(handler), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		r.logger.Infof("starting OAuth callback server at %v", listener.Addr())
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			handler.Send(server.OAuthResult{})
			r.logger.Error("callback server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := spotify.AuthURL(state)
	if cmd.Bool("no-browser") {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	} else {
		r.writePlain("→ Opening browser for Spotify authorization...\n")
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warnf("failed to open browser automatically %v", err)
			r.writePlainln("⚠ Could not open browser automatically.")
			r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
		}
	}

	timeout := cmd.Duration("timeout")
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token, err := handler.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	if token == nil {
		return fmt.Errorf("authorization failed: no token received")
	}

	if err := r.saveTokens(token); err != nil {
		return err
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Tokens saved to %s\n\n", r.configPath)
	r.writePlain("You can now use: audioarchitect snapshot capture --playlist spotify:<id>\n")
	return nil
}

// saveTokens stores token in the config and, when the config came from a file, writes it back.
func (r *Runner) saveTokens(token *oauth2.Token) error {
	if r.config == nil {
		return fmt.Errorf("config is nil")
	}
	if err := r.config.Spotify.Update(token); err != nil {
		return fmt.Errorf("failed to update spotify configuration: %w", err)
	}
	if r.configPath == "" {
		return nil
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
