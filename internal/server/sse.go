package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// sseRetryMillis is the reconnect delay suggested to EventSource clients.
const sseRetryMillis = 2000

// SSEWriter writes job progress as Server-Sent Events. Every event carries an
// increasing id.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

// NewSSEWriter sets the stream headers and sends the retry hint.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	s := &SSEWriter{w: w, flusher: flusher}
	if err := s.write([]byte("retry: " + strconv.Itoa(sseRetryMillis) + "\n\n")); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteEvent sends data as one JSON-encoded event.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.seq++

	var b bytes.Buffer
	fmt.Fprintf(&b, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, event, payload)
	return s.write(b.Bytes())
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", ErrorResponse{Error: "stream_error", Message: message}) //nolint:errcheck
}

// WriteComplete sends the final event of a job stream
func (s *SSEWriter) WriteComplete(jobID, status string) {
	s.WriteEvent("complete", map[string]string{ //nolint:errcheck
		"jobId":  jobID,
		"status": status,
	})
}

// Ping writes a comment line so idle proxies keep the stream open.
func (s *SSEWriter) Ping() error {
	return s.write([]byte(": ping\n\n"))
}

func (s *SSEWriter) write(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
