package stream

import (
	"context"
	"io"
)

// DefaultReadBuffer is the read size used by ReaderSource when none is given.
const DefaultReadBuffer = 4096

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// Source yields successive byte chunks of one response. Next returns io.EOF
// once the stream has completed; any other error is a transport failure.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Opener establishes a stream and returns its Source. Sources that also
// implement io.Closer are closed when consumption ends.
type Opener func(ctx context.Context) (Source, error)

// ReaderSource adapts an io.Reader, typically an HTTP response body.
type ReaderSource struct {
	r   io.Reader
	buf []byte
	err error
}

// NewReaderSource creates a Source reading up to size bytes per chunk.
func NewReaderSource(r io.Reader, size int) *ReaderSource {
	if size <= 0 {
		size = DefaultReadBuffer
	}
	return &ReaderSource{r: r, buf: make([]byte, size)}
}

// Next returns the next chunk read from the underlying reader.
func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := 0; i < maxEmptyReads; i++ {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			// Hand out a copy; the read buffer is reused.
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			s.err = err
			return chunk, nil
		}
		if err != nil {
			s.err = err
			return nil, err
		}
	}
	s.err = io.ErrNoProgress
	return nil, s.err
}

// Close closes the underlying reader if it is an io.Closer.
func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ChunksSource replays a fixed list of chunks, then reports io.EOF. It is
// used for captured streams and tests.
type ChunksSource struct {
	chunks [][]byte
	next   int
	err    error
}

// NewChunksSource creates a Source over chunks.
func NewChunksSource(chunks ...[]byte) *ChunksSource {
	return &ChunksSource{chunks: chunks}
}

// NewStringSource is NewChunksSource for string chunks.
func NewStringSource(chunks ...string) *ChunksSource {
	b := make([][]byte, len(chunks))
	for i, c := range chunks {
		b[i] = []byte(c)
	}
	return NewChunksSource(b...)
}

// FailWith makes the source report err instead of io.EOF after the last chunk.
func (s *ChunksSource) FailWith(err error) *ChunksSource {
	s.err = err
	return s
}

// Next returns the next chunk.
func (s *ChunksSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.chunks) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	c := s.chunks[s.next]
	s.next++
	return c, nil
}

// SplitEvery cuts data into chunks of n bytes. The last chunk may be shorter.
func SplitEvery(data []byte, n int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if n <= 0 {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > n {
		out = append(out, data[:n])
		data = data[n:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}
