// Package versions keeps the query cache in step with the server.
//
// Poller fetches the compact version vector ({menu, categories, banners})
// every DefaultInterval, once on Start, and again whenever the client becomes
// visible. Ticks that fire while hidden are skipped. A failing fetch is
// retried twice with exponential backoff (1s, 2s; capped at 30s) before the
// tick gives up; the last known vector is kept and State reports the error.
//
// Checker turns successive vectors into cache invalidations. The first
// vector seeds it without invalidating anything. After that:
//
//   - menu changed: menu/items and menu/categories
//   - only categories changed: menu/categories
//   - banners changed: banners/active, independently of the above
//
// Every key is invalidated with its own call. Counters are compared for
// inequality only.
package versions
