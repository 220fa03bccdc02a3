// Package ui is the terminal dashboard of the platter client, built on
// Bubble Tea.
//
// # Views
//
//   - Order: the tracked order's status, connection state and history
//   - Cart: persisted cart lines and totals; + and - change the selected
//     line, x removes it
//   - Wallet: balance, referral code and transactions
//   - Menu: the catalog read through the query cache; a or enter adds the
//     selected item to the cart
//   - Logs: the tail of the client's own zap log
//
// # Data Flow
//
// The model never blocks in Update. A tick every RefreshEvery (default 1s)
// issues a command that snapshots the session (tracker, cart, wallet,
// version poller) and tails the log file; the result comes back as a
// snapshotMsg. Network work (tracking, refreshes, menu reads) runs in
// commands too.
//
// # Visibility
//
// The program enables terminal focus reporting. FocusMsg and BlurMsg are
// forwarded to session.SetVisible, which pauses the version poller and the
// order poller and lets a failed order stream revive once the dashboard is
// focused again.
package ui
