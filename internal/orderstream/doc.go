// Package orderstream follows one order's live status over Server-Sent
// Events.
//
// # Consumer
//
// Subscribe opens a single connection and yields typed Messages as an
// iter.Seq2: KindOpened first, then initial (full order), connected,
// statusUpdate (status, history and timestamp patch) and error payloads.
// Malformed or unknown payloads are logged and skipped without closing the
// connection. The sequence ends with an error when the connection drops.
//
// # Reconnects
//
// Stream wraps Subscribe in a retry loop. A successful open resets the
// attempt counter. After a failure the stream waits ReconnectStep times the
// attempt number (3s, 6s, 9s, 12s, 15s) and tries again. Once MaxReconnects
// reconnects have failed in a row the stream enters StateFailed with a
// persistent "refresh the page" error and makes no further attempts on its
// own. With a visibility tracker attached, the client turning visible cuts a
// pending wait short, or revives a failed stream with a fresh counter.
//
// A rejected open (an invalid-input error such as 401 or 404) is not
// retried: the stream goes straight to StateFailed with that error and its
// goroutine exits. Start has to be called again.
//
// A final order status (anything but RECEIVED through OUT_FOR_DELIVERY) ends
// the subscription in StateTerminal. Stop cancels the connection and any
// pending wait and returns once the goroutine has exited.
package orderstream
