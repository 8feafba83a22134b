package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// eventStream serializes Server-Sent Events onto one response. Every event
// carries an increasing id so a client can tell where output stopped.
type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu  sync.Mutex
	seq int
	err error
}

func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, false
	}
	return &eventStream{w: w, rc: http.NewResponseController(w)}, true
}

// output returns a writer that emits each write as one event named stream.
func (s *eventStream) output(stream string) io.Writer {
	return streamWriter{s: s, event: stream}
}

type streamWriter struct {
	s     *eventStream
	event string
}

func (sw streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := sw.s.emit(sw.event, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// done emits the final result, or an error event if it cannot be encoded.
func (s *eventStream) done(result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		_ = s.emit("error", []byte("execution failed"))
		return err
	}
	return s.emit("done", data)
}

// emit writes one event. A newline inside payload starts a new data line,
// otherwise program output would end the event early. The first write
// error is sticky.
func (s *eventStream) emit(event string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.seq++

	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.Itoa(s.seq))
	buf.WriteString("\nevent: ")
	buf.WriteString(event)
	buf.WriteByte('\n')
	for _, line := range bytes.Split(payload, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		s.err = err
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.err = err
		return err
	}
	return nil
}
