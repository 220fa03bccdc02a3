// Package logtail reads the tail of the client's own log file for display in
// the dashboard.
//
// # Reading Log Files
//
// The Read function uses a ring buffer to extract the last maxLines from a
// file, regardless of file size:
//
//   - Scans the file sequentially (one pass)
//   - Uses O(maxLines) memory, not O(file size)
//   - Returns lines in chronological order
//
// A missing file is not an error; the log may simply not exist yet.
//
// # Decoding
//
// The client logs through zap's JSON encoder. Parse turns one line into an
// Entry (time, level, logger name, message and remaining fields). Both
// epoch-seconds and ISO8601 timestamps are accepted. Lines that are not JSON
// (a panic trace, for instance) are kept verbatim in Entry.Raw.
//
// Entry.String renders a compact single-line form:
//
//	12:00:01 WARN  [order] order poll failed error=timeout order_id=o-1
//
// Tail combines both steps and drops blank lines.
package logtail
