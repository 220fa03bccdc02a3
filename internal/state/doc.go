// Package state merges the live sources of an order's tracking data.
//
// # Overview
//
// An order is watched by two producers: the event stream (orderstream) and,
// once the stream gives up, the REST fallback poller (orderpoll). Both report
// through callbacks; Store folds their snapshots into one view that the UI
// reads on its own schedule.
//
//	Producers:                       Consumer (UI):
//	┌──────────────────────┐        ┌──────────────────┐
//	│ stream OnChange      │──┐     │                  │
//	│ poller OnChange      │──┼────→│ store.Snapshot() │
//	│ stream OnNotify      │──┘     │      ↓           │
//	└──────────────────────┘ (mutex)│  render          │
//	                                └──────────────────┘
//
// # Merge Rules
//
//   - The order shown is the one most recently changed by either source.
//     Repeated snapshots carrying the same order do not override the other
//     source.
//   - Connection, Fatal and ConsecutiveFailures come from the stream.
//   - Polling comes from the poller.
//   - A source's error replaces LastError; an open stream clears it.
//
// Snapshot returns a deep copy, so callers may keep or modify it freely.
package state
