package llmhttp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/alextavares/aichat-sub001/internal/domain/chat"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// SSEReader parses a text/event-stream body.
type SSEReader struct {
	reader *bufio.Reader
	body   io.ReadCloser
	closed bool
}

// NewSSEReader wraps body. The reader owns body and closes it on Close.
func NewSSEReader(body io.ReadCloser) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(body), body: body}
}

// Next returns the next non-empty event, or io.EOF at end of stream.
func (s *SSEReader) Next() (Event, error) {
	if s.closed {
		return Event{}, io.EOF
	}
	for {
		ev, err := s.readEvent()
		if err != nil {
			return Event{}, err
		}
		if ev.Name == "" && ev.Data == "" {
			continue
		}
		return ev, nil
	}
}

// Close releases the underlying body.
func (s *SSEReader) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *SSEReader) readEvent() (Event, error) {
	var ev Event
	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Event{}, err
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				if ev.Name == "" && data.Len() == 0 {
					return Event{}, io.EOF
				}
				ev.Data = data.String()
				return ev, nil
			}
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			ev.Data = data.String()
			return ev, nil
		}
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
		if err != nil {
			// EOF on a non-empty final line without trailing blank line.
			ev.Data = data.String()
			return ev, nil
		}
	}
}

// StreamState is carried across events of one stream.
type StreamState struct {
	Usage        *chat.Usage
	FinishReason string
}

// DecodeFunc turns one event into a text delta. done reports the backend's
// end-of-stream marker.
type DecodeFunc func(ev Event, st *StreamState) (delta string, done bool, err error)

// Pump reads r on a new goroutine and forwards decoded chunks on a bounded
// channel. The sequence ends with exactly one Done or Err chunk and the
// channel is then closed. When endOnEOF is false a stream that ends without
// the backend's end marker is reported as an error. Cancelling ctx stops the
// producer and closes the body.
func (c *Client) Pump(ctx context.Context, r *SSEReader, endOnEOF bool, decode DecodeFunc) <-chan chat.Chunk {
	out := make(chan chat.Chunk, c.streamBuf)
	go func() {
		defer close(out)
		defer func() { _ = r.Close() }()

		// Unblock a Read parked on the body when the caller goes away.
		stop := context.AfterFunc(ctx, func() { _ = r.body.Close() })
		defer stop()

		send := func(ch chat.Chunk) bool {
			select {
			case out <- ch:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			if ctx.Err() != nil {
				select {
				case out <- chat.Chunk{Err: ctx.Err()}:
				default:
				}
				return
			}
			send(chat.Chunk{Err: err})
		}

		var st StreamState
		for {
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				if endOnEOF {
					send(chat.Chunk{Done: true, Usage: st.Usage})
					return
				}
				fail(c.Malformed(errors.New("stream ended without completion marker")))
				return
			}
			if err != nil {
				fail(c.transportError(ctx, err))
				return
			}

			delta, done, err := decode(ev, &st)
			if err != nil {
				fail(err)
				return
			}
			if delta != "" && !send(chat.Chunk{Delta: delta}) {
				return
			}
			if done {
				send(chat.Chunk{Done: true, Usage: st.Usage})
				return
			}
		}
	}()
	return out
}
