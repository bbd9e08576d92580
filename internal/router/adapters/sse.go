package adapters

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/af-corp/clinai/internal/types"
)

var (
	sseDataPrefix   = []byte("data:")
	sseDoneSentinel = []byte("[DONE]")
)

// decodeFunc turns one SSE data payload into a chunk. A nil chunk with
// done unset is skipped. Errors matching types.ErrStreamParse drop the
// fragment; any other error ends the stream.
type decodeFunc func(data []byte) (chunk *types.StreamResponse, done bool, err error)

// sseStream reads server-sent events line by line. The scanner keeps an
// incomplete trailing line buffered until the rest of it arrives.
type sseStream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner
	decode   decodeFunc

	finished  bool
	closeOnce sync.Once
	closeErr  error
}

func newSSEStream(provider string, body io.ReadCloser, decode decodeFunc) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{
		provider: provider,
		body:     body,
		scanner:  scanner,
		decode:   decode,
	}
}

func (s *sseStream) Recv() (*types.StreamResponse, error) {
	if s.finished {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		data, ok := bytes.CutPrefix(s.scanner.Bytes(), sseDataPrefix)
		if !ok {
			// event:, id:, retry:, comments and blank separators
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}

		if bytes.Equal(data, sseDoneSentinel) {
			return s.finish(&types.StreamResponse{}), nil
		}

		chunk, done, err := s.decode(data)
		if err != nil {
			if errors.Is(err, types.ErrStreamParse) {
				slog.Warn("skipping malformed stream fragment",
					"provider", s.provider,
					"bytes", len(data),
					"error", err,
				)
				continue
			}
			s.finished = true
			s.Close()
			return nil, err
		}
		if done {
			if chunk == nil {
				chunk = &types.StreamResponse{}
			}
			return s.finish(chunk), nil
		}
		if chunk != nil {
			return chunk, nil
		}
	}

	s.finished = true
	s.Close()
	if err := s.scanner.Err(); err != nil {
		return nil, types.NewTransportError(s.provider, "read stream", err)
	}
	return nil, types.NewTransportError(s.provider, "stream ended before terminator", io.ErrUnexpectedEOF)
}

// finish marks the terminal chunk and stops reading.
func (s *sseStream) finish(chunk *types.StreamResponse) *types.StreamResponse {
	chunk.Done = true
	s.finished = true
	s.Close()
	return chunk
}

func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
