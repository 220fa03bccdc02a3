// Package sse decodes a text/event-stream body into events.
//
// Only the fields the order stream uses are interpreted: event, data, id and
// retry. Comment lines (leading ':') are skipped, multiple data lines are
// joined with '\n', and LF, CRLF and lone CR line endings are all accepted.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"
)

// maxLine bounds a single line of the stream.
const maxLine = 1 << 20

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Type  string // "message" when the server sent no event field
	Data  string
	Retry time.Duration
}

// Decoder reads events from a stream.
type Decoder struct {
	sc     *bufio.Scanner
	lastID string
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	sc.Split(scanLines)
	return &Decoder{sc: sc}
}

// LastEventID is the id of the most recent event that carried one.
func (d *Decoder) LastEventID() string { return d.lastID }

// Next returns the next event. It returns io.EOF when the stream ends;
// a partially received event at EOF is discarded.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)
	for d.sc.Scan() {
		line := d.sc.Text()
		if line == "" {
			if !hasData {
				ev = Event{}
				continue
			}
			ev.Data = data.String()
			if ev.Type == "" {
				ev.Type = "message"
			}
			if ev.ID != "" {
				d.lastID = ev.ID
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				ev.ID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if err := d.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Events yields every event of r until EOF or a read error. A clean EOF ends
// the sequence without an error.
func Events(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		dec := NewDecoder(r)
		for {
			ev, err := dec.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// scanLines splits on LF, CRLF or CR.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// CR: swallow a following LF, but only once we can see it.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
