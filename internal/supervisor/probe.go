package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultPollInterval is the fixed delay between readiness probes.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultProbeTimeout bounds a single probe request.
	DefaultProbeTimeout = 2 * time.Second
)

const instrumentationName = "Helix/internal/supervisor"

// Probe performs one readiness check and returns the HTTP status code it got.
// An error means the backend could not be reached.
type Probe interface {
	Check(ctx context.Context) (int, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (int, error)

// Check calls f.
func (f ProbeFunc) Check(ctx context.Context) (int, error) {
	return f(ctx)
}

// HTTPProbe issues a GET to a side-effect-free endpoint.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProbe creates a probe for url.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProbe{
		URL:     url,
		Timeout: timeout,
		Client: &http.Client{
			// A redirect is still an answer from the backend.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// Check sends the probe request.
func (p *HTTPProbe) Check(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}

// IsReadyStatus reports whether a probe status shows a backend that is up.
// Success, client errors and server errors all count: the probe only cares
// that something answered.
func IsReadyStatus(code int) bool {
	return (code >= 200 && code < 300) || (code >= 400 && code < 600)
}

// WaitUntilReady probes on a fixed interval until the backend answers with
// a ready status. There is no retry limit and no backoff; only ctx ends the
// wait early. It returns the number of probes made.
func (s *Supervisor) WaitUntilReady(ctx context.Context, probe Probe, interval time.Duration) (int, error) {
	return WaitUntilReady(ctx, probe, interval, s)
}

// WaitUntilReady is the loop behind Supervisor.WaitUntilReady. sup may be
// nil when the backend is not owned by this process.
func WaitUntilReady(ctx context.Context, probe Probe, interval time.Duration, sup *Supervisor) (int, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	logger := slog.Default()
	if sup != nil {
		logger = sup.logger
	}
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "supervisor.wait_until_ready")
	defer span.End()

	attempts, _ := otel.Meter(instrumentationName).Int64Counter("helix.supervisor.probe.attempts",
		metric.WithDescription("Backend readiness probes sent"))

	start := time.Now()
	exitLogged := false
	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		code, err := probe.Check(ctx)
		if attempts != nil {
			attempts.Add(ctx, 1)
		}

		if err == nil && IsReadyStatus(code) {
			span.SetAttributes(attribute.Int("probe.attempts", attempt))
			logger.Info("backend ready", "attempts", attempt, "status", code, "elapsed_ms", time.Since(start).Milliseconds())
			return attempt, nil
		}
		if err != nil {
			logger.Debug("backend not reachable yet", "attempt", attempt, "error", err)
		} else {
			logger.Debug("backend answered with unexpected status", "attempt", attempt, "status", code)
		}

		if sup != nil && !exitLogged {
			if p := sup.Process(); p != nil && !p.Alive() {
				code, _ := p.ExitCode()
				logger.Warn("backend process is not running, still waiting for it to answer", "exit_code", code)
				exitLogged = true
			}
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			span.SetAttributes(attribute.Int("probe.attempts", attempt))
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
