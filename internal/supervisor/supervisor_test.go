package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test. It is the fake backend the other
// tests spawn by re-running the test binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("HELIX_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}

	switch args[1] {
	case "echo":
		fmt.Println("hello from backend")
		fmt.Fprintln(os.Stderr, "warming up")
		os.Exit(0)
	case "exit":
		os.Exit(3)
	case "sleep":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestSupervisor(t *testing.T, mode string) (*Supervisor, *syncBuffer) {
	t.Helper()

	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sup, err := New(Config{
		ExecutablePath: os.Args[0],
		Args:           []string{"-test.run=TestHelperProcess", "--", mode},
		Env:            []string{"HELIX_WANT_HELPER_PROCESS=1"},
		ShutdownGrace:  2 * time.Second,
	}, logger)
	require.NoError(t, err)
	return sup, logs
}

func waitDone(t *testing.T, p *BackendProcess) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("backend process did not exit")
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ExecutablePath: "x"}, nil)
	require.Error(t, err)

	_, err = New(Config{}, slog.Default())
	require.Error(t, err)

	sup, err := New(Config{ExecutablePath: "x"}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, DefaultShutdownGrace, sup.cfg.ShutdownGrace)
}

func TestStart_LogsOutputAndExitCode(t *testing.T) {
	sup, logs := newTestSupervisor(t, "echo")
	require.NoError(t, sup.Start())

	p := sup.Process()
	require.NotNil(t, p)
	waitDone(t, p)

	code, exited := p.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 0, code)
	assert.False(t, p.Alive())

	out := logs.String()
	assert.Contains(t, out, "backend stdout")
	assert.Contains(t, out, "hello from backend")
	assert.Contains(t, out, "backend stderr")
	assert.Contains(t, out, "warming up")
	assert.Contains(t, out, "exit_code=0")
}

func TestStart_NonZeroExit(t *testing.T) {
	sup, logs := newTestSupervisor(t, "exit")
	require.NoError(t, sup.Start())

	p := sup.Process()
	waitDone(t, p)

	code, _ := p.ExitCode()
	assert.Equal(t, 3, code)
	assert.Contains(t, logs.String(), "exit_code=3")
}

func TestStart_SpawnFailure(t *testing.T) {
	logs := &syncBuffer{}
	sup, err := New(Config{ExecutablePath: "/nonexistent/helix-backend"}, slog.New(slog.NewTextHandler(logs, nil)))
	require.NoError(t, err)

	require.NoError(t, sup.Start())

	p := sup.Process()
	require.NotNil(t, p)
	waitDone(t, p)

	code, exited := p.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, -1, code)
	assert.Contains(t, logs.String(), "backend failed to spawn")
	assert.NoError(t, sup.Shutdown())
}

func TestStart_AlreadyRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sleep")
	require.NoError(t, sup.Start())
	defer sup.Shutdown()

	assert.ErrorIs(t, sup.Start(), ErrAlreadyRunning)
}

func TestShutdown(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sleep")
	require.NoError(t, sup.Start())

	p := sup.Process()
	require.True(t, p.Alive())
	require.True(t, sup.Running())

	start := time.Now()
	require.NoError(t, sup.Shutdown())
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.False(t, p.Alive())
	assert.Nil(t, sup.Process())
	assert.False(t, sup.Running())

	// Second call has nothing to do.
	assert.NoError(t, sup.Shutdown())
}

func TestShutdown_NothingStarted(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sleep")
	assert.NoError(t, sup.Shutdown())
}

func TestWaitUntilReady_RetriesUntilAnswer(t *testing.T) {
	var calls int
	probe := ProbeFunc(func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection refused")
		}
		return http.StatusInternalServerError, nil
	})

	interval := 20 * time.Millisecond
	start := time.Now()
	attempts, err := WaitUntilReady(context.Background(), probe, interval, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, time.Since(start), 2*interval)
}

func TestWaitUntilReady_UnexpectedStatusKeepsPolling(t *testing.T) {
	codes := []int{http.StatusFound, http.StatusNotFound}
	var i int
	probe := ProbeFunc(func(ctx context.Context) (int, error) {
		c := codes[i]
		i++
		return c, nil
	})

	attempts, err := WaitUntilReady(context.Background(), probe, time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWaitUntilReady_ContextCancel(t *testing.T) {
	probe := ProbeFunc(func(ctx context.Context) (int, error) {
		return 0, errors.New("connection refused")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts, err := WaitUntilReady(ctx, probe, 10*time.Millisecond, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, attempts, 1)
}

func TestWaitUntilReady_WarnsWhenProcessExited(t *testing.T) {
	sup, logs := newTestSupervisor(t, "exit")
	require.NoError(t, sup.Start())
	waitDone(t, sup.Process())

	var calls int
	probe := ProbeFunc(func(ctx context.Context) (int, error) {
		calls++
		if calls < 4 {
			return 0, errors.New("connection refused")
		}
		return http.StatusOK, nil
	})

	attempts, err := sup.WaitUntilReady(context.Background(), probe, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 1, bytes.Count([]byte(logs.String()), []byte("backend process is not running")))
}

func TestIsReadyStatus(t *testing.T) {
	for code, want := range map[int]bool{
		200: true,
		204: true,
		301: false,
		400: true,
		404: true,
		405: true,
		500: true,
		503: true,
		100: false,
		0:   false,
	} {
		assert.Equal(t, want, IsReadyStatus(code), "status %d", code)
	}
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	probe := NewHTTPProbe(srv.URL+"/dms/friends", time.Second)
	code, err := probe.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, code)

	srv.Close()
	_, err = probe.Check(context.Background())
	assert.Error(t, err)
}
