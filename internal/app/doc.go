// Package app is the composition root for the platter client.
//
// # Overview
//
// Open turns a config.Config into a running client: a JSON logger under the
// data directory, the durable store picked by the storage driver, an auth
// session seeded with the configured token, the API client, and the
// session.Session that owns the cart, wallet, caches and order trackers.
// Run opens all of that, starts the session and hands it to the dashboard.
//
// # Startup
//
//	┌──────────────┐
//	│   Run()      │
//	└──────┬───────┘
//	       ├─────> prefs.Load()     Theme and last tracked order
//	       ├─────> Open()
//	       │        ├─> NewLogger()    <data_dir>/platter.log
//	       │        ├─> OpenStorage()  memory | file | sqlite | postgres | redis
//	       │        ├─> api.NewClient()
//	       │        └─> session.New()  Rehydrates cart and wallet
//	       ├─────> Session.Start()  Cache sweeper and version poller
//	       └─────> ui.Run()         Blocks until quit or ctx done
//
// # Errors
//
// Configuration, logger and storage failures are returned from Open. Network
// failures never are: the session starts offline and recovers on its own,
// so the dashboard comes up even when the backend is down.
//
// The logger writes to a file because the terminal belongs to the dashboard.
// The Logs view tails the same file through the logtail package.
package app
