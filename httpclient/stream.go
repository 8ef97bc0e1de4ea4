package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	nethttp "net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

const (
	// StreamChunkSize bounds the size in bytes of every chunk, including bytes
	// of a multi-byte rune carried over from the previous read
	StreamChunkSize = 4096

	maxStreamErrorBody = 1 << 20
)

// ErrStreamClosed is returned by Recv after the stream was closed early
var ErrStreamClosed = errors.New("httpclient: stream closed")

// Stream yields the response body as UTF-8 text chunks of at most
// StreamChunkSize bytes. A status >= 400 is reported as a KindStreamingBody
// error by the first Recv. A Stream is not safe for concurrent use.
type Stream struct {
	body       io.ReadCloser
	statusCode int
	header     nethttp.Header

	buf     []byte
	pending []byte // incomplete trailing rune carried to the next chunk
	readErr error  // read error deferred until pending text was returned
	err     error  // sticky terminal error
	checked bool
	closed  bool
}

func newStream(resp *nethttp.Response) *Stream {
	return &Stream{
		body:       resp.Body,
		statusCode: resp.StatusCode,
		header:     resp.Header,
		buf:        make([]byte, StreamChunkSize),
	}
}

// StatusCode returns the response status
func (s *Stream) StatusCode() int { return s.statusCode }

// Header returns the response headers
func (s *Stream) Header() nethttp.Header { return s.header }

// Recv returns the next chunk. It returns io.EOF once the body is exhausted,
// after which the body is already closed.
func (s *Stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if !s.checked {
		s.checked = true
		if s.statusCode >= nethttp.StatusBadRequest {
			return "", s.fail(s.statusError())
		}
	}

	for {
		if s.readErr != nil {
			return s.finish()
		}
		// the carried bytes count against the chunk size
		carried := copy(s.buf, s.pending)
		n, err := s.body.Read(s.buf[carried:])
		if err != nil {
			s.readErr = err
		}
		if n == 0 {
			continue
		}

		text, rest := splitIncompleteRune(s.buf[:carried+n])
		s.pending = append(s.pending[:0], rest...)
		if len(text) > 0 {
			return string(text), nil
		}
	}
}

// finish handles the deferred read error once all complete text was returned.
func (s *Stream) finish() (string, error) {
	if !errors.Is(s.readErr, io.EOF) {
		if errors.Is(s.readErr, context.Canceled) || errors.Is(s.readErr, context.DeadlineExceeded) {
			return "", s.fail(NewCanceledError(s.readErr, 0))
		}
		return "", s.fail(NewTransportError("reading stream", s.readErr))
	}
	if len(s.pending) > 0 {
		// a truncated rune at EOF is emitted as-is
		tail := string(s.pending)
		s.pending = nil
		return tail, nil
	}
	return "", s.fail(io.EOF)
}

// Chunks returns an iterator over the remaining chunks. The body is closed
// when the iteration ends, including when the caller stops early. An error
// other than io.EOF is yielded once as the final element.
func (s *Stream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			chunk, err := s.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Text drains the stream and returns the concatenated chunks
func (s *Stream) Text() (string, error) {
	var b strings.Builder
	for chunk, err := range s.Chunks() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.err == nil {
		s.err = ErrStreamClosed
	}
	return s.body.Close()
}

func (s *Stream) fail(err error) error {
	s.err = err
	if !s.closed {
		s.closed = true
		_ = s.body.Close()
	}
	return err
}

// statusError builds the error of a failed streaming response. A JSON body
// is included compacted when it has an "error" member; a non-JSON body is
// included verbatim.
func (s *Stream) statusError() *ClientError {
	body, _ := io.ReadAll(io.LimitReader(s.body, maxStreamErrorBody))

	message := fmt.Sprintf("HTTP %d", s.statusCode)
	if gjson.ValidBytes(body) {
		if gjson.GetBytes(body, "error").Exists() {
			message += " " + string(pretty.Ugly(body))
		}
	} else if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		message += " " + trimmed
	}
	return NewStreamingBodyError(message, s.statusCode, body)
}

// splitIncompleteRune splits b before a trailing multi-byte rune that is not
// yet complete.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}
