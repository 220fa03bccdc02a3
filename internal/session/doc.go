// Package session is the application root of the sync layer.
//
// A Session owns one instance of every long-lived component and is the only
// place they are wired together:
//
//	api.Client ──→ catalog.Service ──→ querycache.Cache
//	     │                ↑
//	     │         versions.Checker ←── versions.Poller (visibility gated)
//	     │
//	     ├──→ wallet.Store ──→ storage.Store (durable)
//	     │    cart.Store   ──→ storage.Store (durable)
//	     │
//	     └──→ Tracker (per order)
//	            orderstream.Stream ──┐
//	            orderpoll.Poller   ──┴──→ state.Store
//
// # Lifecycle
//
// New loads persisted cart and wallet data. Start launches the cache
// sweeper and the version poller. TrackOrder adds a Tracker per order id;
// Untrack and Close stop them. Close stops everything and is idempotent.
// Logout keeps the session running but drops every piece of user data.
//
// # Fallback Polling
//
// A Tracker follows the event stream. Once the stream exhausts its
// reconnects it reports StateFailed and the Tracker starts the REST poller.
// Statuses seen on the stream are pushed into the poller so it halts once
// the order is final. When the stream opens again (the client became
// visible) the poller is stopped.
package session
