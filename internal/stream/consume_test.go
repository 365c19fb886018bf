package stream

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu         sync.Mutex
	tokens     []string
	done       []string
	errs       []error
	backendErr []string
}

func (r *recorder) sink() Sink {
	return Sink{
		OnToken: func(delta string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.tokens = append(r.tokens, delta)
		},
		OnDone: func(full string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.done = append(r.done, full)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnBackendError: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.backendErr = append(r.backendErr, msg)
		},
	}
}

// blockingSource never yields data; Next returns only when ctx ends.
type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

const mixedStream = "data: {\"content\":\"Hé\"}\n\n" +
	"event: ping\n\n" +
	"data: not json\n\n" +
	"data: {\"content\":\"llo 世界\"}\n\n" +
	"data: {\"content\":\"\"}\n\n" +
	": keep-alive\n\n" +
	"data: {\"other\":1}\n\n" +
	"data: {\"content\":\"🙂\"}\n\n"

func TestConsume_ChunkBoundaryIndependence(t *testing.T) {
	want := []string{"Hé", "llo 世界", "🙂"}
	data := []byte(mixedStream)

	for size := 1; size <= len(data); size++ {
		var r recorder
		res, err := Consume(context.Background(), NewChunksSource(SplitEvery(data, size)...), r.sink())
		require.NoError(t, err, "chunk size %d", size)
		require.Equal(t, want, r.tokens, "chunk size %d", size)
		require.Equal(t, []string{"Hé" + "llo 世界" + "🙂"}, r.done, "chunk size %d", size)
		require.Equal(t, StatusDone, res.Status)
		require.Equal(t, 1, res.Dropped)
	}
}

func TestConsume_RandomSplits(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := []byte(mixedStream)

	for i := 0; i < 200; i++ {
		var chunks [][]byte
		rest := data
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}

		var r recorder
		_, err := Consume(context.Background(), NewChunksSource(chunks...), r.sink())
		require.NoError(t, err)
		require.Equal(t, []string{"Hé", "llo 世界", "🙂"}, r.tokens)
	}
}

func TestConsume_PayloadSplitAcrossChunks(t *testing.T) {
	var r recorder
	_, err := Consume(context.Background(),
		NewStringSource("data: {\"content\":\"He", "llo\"}\n\n"), r.sink())
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello"}, r.tokens)
	assert.Equal(t, []string{"Hello"}, r.done)
}

func TestConsume_ValidRecordsAmongJunk(t *testing.T) {
	contents := []string{"one ", "two ", "three ", "four"}
	junk := []string{"garbage", "data: {broken", "id: 7", "data:{\"content\":\"no space\"}", "retry: 100"}

	var b strings.Builder
	for i, c := range contents {
		b.WriteString(junk[i%len(junk)] + "\n\n")
		b.WriteString("data: {\"content\":\"" + c + "\"}\n\n")
	}
	b.WriteString(junk[len(junk)-1] + "\n\n")

	var r recorder
	res, err := Consume(context.Background(), NewStringSource(b.String()), r.sink())
	require.NoError(t, err)

	assert.Equal(t, contents, r.tokens)
	assert.Equal(t, []string{strings.Join(contents, "")}, r.done)
	assert.Equal(t, len(contents), res.Tokens)
}

func TestConsume_EmptyOrMissingContent(t *testing.T) {
	var r recorder
	res, err := Consume(context.Background(), NewStringSource(
		"data: {}\n\n",
		"data: {\"content\":\"\"}\n\n",
		"data: {\"content\":\"x\"}\n\n",
	), r.sink())
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, r.tokens)
	assert.Equal(t, []string{"x"}, r.done)
	assert.Equal(t, StatusDone, res.Status)
}

func TestConsume_NoRecordsIsNotFatal(t *testing.T) {
	var r recorder
	res, err := Consume(context.Background(), NewStringSource("<html>502 Bad Gateway</html>"), r.sink())
	require.NoError(t, err)

	assert.Empty(t, r.tokens)
	assert.Equal(t, []string{""}, r.done)
	assert.Empty(t, r.errs)
	assert.Equal(t, 0, res.Tokens)
}

func TestConsume_FlushesUnterminatedFinalRecord(t *testing.T) {
	var r recorder
	_, err := Consume(context.Background(), NewStringSource("data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}"), r.sink())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.tokens)
}

func TestConsume_CancelStopsBufferedTokens(t *testing.T) {
	var all strings.Builder
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		all.WriteString("data: {\"content\":\"" + c + "\"}\n\n")
	}

	cases := map[string]Source{
		"single chunk":    NewStringSource(all.String()),
		"chunk per token": NewChunksSource(SplitEvery([]byte(all.String()), len("data: {\"content\":\"1\"}\n\n"))...),
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var r recorder
			sink := r.sink()
			onToken := sink.OnToken
			sink.OnToken = func(delta string) {
				onToken(delta)
				if len(r.tokens) == 2 {
					cancel()
				}
			}

			res, err := Consume(ctx, src, sink)
			require.ErrorIs(t, err, context.Canceled)

			assert.Equal(t, []string{"1", "2"}, r.tokens)
			assert.Empty(t, r.done)
			assert.Empty(t, r.errs)
			assert.Equal(t, StatusCancelled, res.Status)
			assert.Equal(t, "12", res.Text)
		})
	}
}

func TestConsume_TransportErrorFiresOnce(t *testing.T) {
	reset := errors.New("connection reset by peer")
	src := NewStringSource("data: {\"content\":\"partial\"}\n\n").FailWith(reset)

	var r recorder
	res, err := Consume(context.Background(), src, r.sink())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, reset)

	assert.Equal(t, []string{"partial"}, r.tokens)
	assert.Empty(t, r.done)
	require.Len(t, r.errs, 1)

	var serr *Error
	require.ErrorAs(t, r.errs[0], &serr)
	assert.Equal(t, "partial", serr.Partial)
	assert.Equal(t, StatusError, res.Status)
}

func TestConsume_IdleTimeout(t *testing.T) {
	var r recorder
	start := time.Now()
	res, err := Consume(context.Background(), blockingSource{}, r.sink(), WithIdleTimeout(30*time.Millisecond))

	require.ErrorIs(t, err, ErrIdleTimeout)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Len(t, r.errs, 1)
	assert.Equal(t, StatusTimeout, res.Status)
}

func TestConsume_BackendErrorRecord(t *testing.T) {
	var r recorder
	res, err := Consume(context.Background(),
		NewStringSource("data: {\"error\":\"model not loaded\"}\n\n"), r.sink())
	require.NoError(t, err)

	assert.Empty(t, r.tokens)
	assert.Equal(t, "model not loaded", res.BackendError)
	assert.Equal(t, []string{"model not loaded"}, r.backendErr)
	assert.Equal(t, []string{""}, r.done)
	assert.Empty(t, r.errs)
}

func TestConsume_BackendErrorAfterTokens(t *testing.T) {
	var r recorder
	res, err := Consume(context.Background(), NewStringSource(
		"data: {\"content\":\"Hal\"}\n\n",
		"data: {\"error\":\"overloaded\"}\n\n",
		"data: {\"content\":\"f\"}\n\n",
	), r.sink())
	require.NoError(t, err)

	assert.Equal(t, "Half", res.Text)
	assert.Equal(t, []string{"overloaded"}, r.backendErr)
	assert.Equal(t, []string{"Half"}, r.done)
}

// stalledReader never makes progress.
type stalledReader struct{}

func (stalledReader) Read(p []byte) (int, error) { return 0, nil }

func TestReaderSource_NoProgress(t *testing.T) {
	src := NewReaderSource(stalledReader{}, 8)

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.ErrNoProgress)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.ErrNoProgress, "error is sticky")

	var r recorder
	_, err = Consume(context.Background(), NewReaderSource(stalledReader{}, 8), r.sink())
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.ErrNoProgress)
	assert.Len(t, r.errs, 1)
}

func TestConsume_ReaderSource(t *testing.T) {
	body := io.NopCloser(iotest.OneByteReader(strings.NewReader(mixedStream)))

	var r recorder
	_, err := Consume(context.Background(), NewReaderSource(body, 0), r.sink())
	require.NoError(t, err)
	assert.Equal(t, []string{"Hé", "llo 世界", "🙂"}, r.tokens)
}

func TestStart_WaitAndCancel(t *testing.T) {
	var r recorder
	s := Start(context.Background(), func(ctx context.Context) (Source, error) {
		return NewStringSource("data: {\"content\":\"hi\"}\n\n"), nil
	}, r.sink())

	res, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text)

	blocked := Start(context.Background(), func(ctx context.Context) (Source, error) {
		return blockingSource{}, nil
	}, r.sink())
	blocked.Cancel()

	select {
	case <-blocked.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop after Cancel")
	}
	res, err = blocked.Wait()
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Len(t, r.done, 1)
	assert.Empty(t, r.errs)
}

func TestRun_OpenFailureIsTransportError(t *testing.T) {
	var r recorder
	_, err := Run(context.Background(), func(ctx context.Context) (Source, error) {
		return nil, errors.New("dial tcp 127.0.0.1:5000: connection refused")
	}, r.sink())

	require.ErrorIs(t, err, ErrTransport)
	assert.Len(t, r.errs, 1)
	assert.Empty(t, r.done)
}
