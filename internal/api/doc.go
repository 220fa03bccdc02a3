// Package api provides an HTTP client for the restaurant backend.
//
// # Overview
//
// This package defines the client used by every sync component to read menu,
// banner, wallet and order data, and to open the live order status stream.
//
// # Architecture
//
//   - client.go: HTTP client, request construction and error mapping
//   - types.go: Data structures mirroring the backend schema
//
// # Client Usage
//
//	client, err := api.NewClient("https://example.com/api",
//		api.WithSession(auth.NewSession(token)),
//		api.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//
//	versions, err := client.FetchVersions(ctx)
//
// # Endpoints
//
//   - GET /versions: version vector {menu, categories, banners}
//   - GET /menu/items, /menu/categories, /menu/items/{id}, /menu/version
//   - GET /banners/active, /banners, /banners/{id}
//   - GET /wallet/balance, /wallet/transactions, /wallet/summary, /wallet/referral-code
//   - POST /wallet/apply-referral
//   - GET /orders/mine, /orders/{id}, /orders/{id}/track
//   - GET /orders/{id}/stream (Server-Sent Events)
//
// Menu, banner and order endpoints wrap their payload in {"data": ...}.
//
// # Request Handling
//
// All requests:
//   - Use context for cancellation
//   - Carry User-Agent: platter/0.1 and a fresh X-Request-ID
//   - Carry Authorization: Bearer <token> when the session has one
//   - Go through an otelhttp transport so traces propagate
//   - Time out after 10 seconds (streams excepted)
//
// Wallet and "my orders" endpoints refuse to run without a token and make no
// request in that case.
//
// # Error Handling
//
// Errors are classified with package syncerr:
//
//   - Network failures, 5xx, 408 and 429: transient
//   - Other 4xx and malformed order ids: invalid input (401 also wraps
//     syncerr.ErrUnauthenticated)
//   - Undecodable bodies: parse
//
// Example error messages:
//   - "api.request: transient: execute request: dial tcp: connection refused"
//   - "api.status: transient: api /menu/items returned status 500"
//
// # Thread Safety
//
// The Client is safe for concurrent use.
//
// # Design Rationale
//
// The client does no caching and no retries. Freshness belongs to the query
// cache and the wallet store; retry policy belongs to the pollers and the
// stream.
package api
