package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Encoder frames envelopes as Server-Sent Events over an http.Flusher.
// Safe for concurrent use: heartbeat comments may be written from a
// separate goroutine while a turn is streaming.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder creates an SSE encoder and sets the streaming headers.
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Encoder{w: w, flusher: flusher}, nil
}

// Send writes one envelope as a data frame and flushes.
func (e *Encoder) Send(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// Comment writes an ignorable heartbeat line. Decoders must skip it.
func (e *Encoder) Comment(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// Decoder reads envelopes from an SSE stream in emission order, skipping
// comment lines. The stream terminates with io.EOF when the channel
// closes.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: sc}
}

// Next returns the next envelope, or io.EOF at end of stream.
func (d *Decoder) Next() (Envelope, error) {
	var data strings.Builder

	for d.scanner.Scan() {
		line := d.scanner.Text()

		switch {
		case strings.HasPrefix(line, ":"):
			// Heartbeat/comment line, ignore without affecting state.
			continue
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() == 0 {
				continue // blank line after a comment
			}
			var env Envelope
			if err := json.Unmarshal([]byte(data.String()), &env); err != nil {
				return Envelope{}, fmt.Errorf("decode envelope: %w", err)
			}
			return env, nil
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Envelope{}, err
	}
	if data.Len() > 0 {
		// Frame terminated by EOF rather than a blank line.
		var env Envelope
		if err := json.Unmarshal([]byte(data.String()), &env); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		return env, nil
	}
	return Envelope{}, io.EOF
}
