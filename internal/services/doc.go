// Package services implements the [Platform] capability for streaming services.
//
// The core only ever talks to a [Platform]: FetchLibrary reads playlists, ApplyMutation performs one
// add, remove or move. Concrete adapters translate those calls to a service's wire protocol.
//
// # Spotify
//
// [SpotifyPlatform] talks to the Spotify Web API with an [oauth2] client that refreshes expired
// tokens automatically.
//
// # Proxy
//
// [ProxyPlatform] speaks a small JSON protocol to a local proxy process that wraps services
// without a public API (YouTube Music via ytmusicapi, for example). Browser headers captured as a
// cURL command or a JSON object are forwarded on every request.
//
// # Errors
//
// Failed calls return a [shared.PlatformError] wrapping [shared.ErrTransient] or [shared.ErrPermanent],
// so retry logic classifies failures with errors.Is. An add whose track is already at the requested
// position, or a remove whose track is already gone, returns [shared.ErrAlreadyApplied].
package services
