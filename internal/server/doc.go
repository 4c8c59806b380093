// Package server exposes the sync engine over HTTP and handles OAuth callbacks.
//
// # Routes
//
// [Server] mounts a chi router with request IDs, panic recovery, CORS and request logging:
//
//	GET  /health                               service and platform availability
//	GET  /                                     service info
//	GET  /metrics                              Prometheus exposition
//	GET  /api/platforms                        registered adapters
//	GET  /api/groups                           configured sync groups
//	GET  /api/sync                             every known session
//	POST /api/sync                             start a session: {"group_id", "policy"}
//	GET  /api/sync/{id}                        session status
//	POST /api/sync/{id}/approve                execute the ready plan
//	POST /api/sync/{id}/cancel                 cancel before execution
//	POST /api/sync/{id}/conflicts/{fingerprint} decide a conflict: {"keep": bool}
//	GET  /api/snapshots/{id}                   snapshot, optionally ?format=csv|markdown|txt
//	GET  /api/snapshots/{id}/duplicates        duplicate groups, optional ?threshold=
//
// Errors are JSON bodies of the form {"error": "..."} with the status chosen by [StatusFor].
//
// # OAuth Callback Handler
//
// OAuthHandler implements the OAuth2 authorization code callback flow.
//
// The handler validates the state parameter (CSRF protection), exchanges the authorization code for tokens,
// and sends the result through a channel.
//
// It only processes one callback to prevent replay attacks.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
// [Server.Mount] and [NewCallbackRouter] register them.
package server
