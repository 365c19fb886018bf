// Package stream consumes the backend's streamed responses: UTF-8 text made
// of `data: {json}` records separated by a blank line. Each non-empty
// `content` field is delivered to a Sink as an incremental delta.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Sink receives the output of one session. Any callback may be nil.
// Callbacks run on the consuming goroutine, one at a time, in stream order.
type Sink struct {
	// OnToken receives each newly arrived text fragment, not the running total.
	OnToken func(delta string)
	// OnDone fires once with the full text when the stream completes.
	OnDone func(full string)
	// OnError fires once with a *Error when the session aborts.
	OnError func(err error)
	// OnBackendError receives the message of each `error` record. The
	// stream carries on; OnDone still ends it.
	OnBackendError func(msg string)
}

// Status is the terminal state of a session.
type Status string

const (
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Result summarizes a finished session.
type Result struct {
	Text         string
	Tokens       int
	Dropped      int    // data records whose payload failed to decode
	BackendError string // last `error` field reported by the backend, if any
	Status       Status
}

type chunk struct {
	data []byte
	err  error
}

type consumer struct {
	sink   Sink
	opts   *options
	dec    *utf8Decoder
	buf    string
	text   strings.Builder
	res    Result
	tokens metric.Int64Counter
}

// Consume reads src until it completes, fails, times out or ctx is
// cancelled. On completion Sink.OnDone fires; on failure or idle timeout
// Sink.OnError fires; on cancellation neither fires and ctx.Err() is
// returned. No callback runs after cancellation is observed, even when
// chunks are still buffered.
func Consume(ctx context.Context, src Source, sink Sink, opts ...Option) (Result, error) {
	o := newOptions(opts)

	ctx, span := o.tracer.Start(ctx, "stream.consume",
		trace.WithAttributes(attribute.String("stream.label", o.label)))
	defer span.End()

	c := &consumer{sink: sink, opts: o, dec: newUTF8Decoder()}
	counter, err := o.meter.Int64Counter("helix.stream.tokens",
		metric.WithDescription("Content deltas delivered to stream sinks"))
	if err == nil {
		c.tokens = counter
	}

	start := time.Now()
	res, err := c.run(ctx, src)

	span.SetAttributes(
		attribute.Int("stream.tokens", res.Tokens),
		attribute.String("stream.status", string(res.Status)),
	)
	if err != nil && res.Status != StatusCancelled {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.logger.Debug("stream finished",
		"label", o.label,
		"status", res.Status,
		"tokens", res.Tokens,
		"dropped", res.Dropped,
		"duration_ms", time.Since(start).Milliseconds())
	return res, err
}

func (c *consumer) run(ctx context.Context, src Source) (Result, error) {
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	chunks := make(chan chunk)
	go pump(pumpCtx, src, chunks)

	var idle <-chan time.Time
	var timer *time.Timer
	if c.opts.idleTimeout > 0 {
		timer = time.NewTimer(c.opts.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return c.cancelled(ctx)

		case <-idle:
			return c.fail(ErrIdleTimeout, fmt.Errorf("no data received for %s", c.opts.idleTimeout))

		case ch := <-chunks:
			if ctx.Err() != nil {
				return c.cancelled(ctx)
			}

			if errors.Is(ch.err, io.EOF) {
				c.feed(ctx, c.dec.Decode(nil, true))
				c.flush(ctx)
				if ctx.Err() != nil {
					return c.cancelled(ctx)
				}
				return c.done()
			}
			if ch.err != nil {
				return c.fail(ErrTransport, ch.err)
			}

			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(c.opts.idleTimeout)
			}

			c.feed(ctx, c.dec.Decode(ch.data, false))
			if ctx.Err() != nil {
				return c.cancelled(ctx)
			}
		}
	}
}

// pump moves chunks from src to out until src reports an error or ctx ends.
func pump(ctx context.Context, src Source, out chan<- chunk) {
	for {
		data, err := src.Next(ctx)
		select {
		case out <- chunk{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// feed appends decoded text to the carry-over buffer and processes every
// complete record in it.
func (c *consumer) feed(ctx context.Context, text string) {
	if text == "" {
		return
	}
	records, rest := splitRecords(c.buf + text)
	c.buf = rest
	for _, r := range records {
		if ctx.Err() != nil {
			return
		}
		c.handleRecord(ctx, r)
	}
}

// flush processes an unterminated final record left when the stream ends.
func (c *consumer) flush(ctx context.Context) {
	rest := c.buf
	c.buf = ""
	if strings.TrimSpace(rest) == "" || ctx.Err() != nil {
		return
	}
	c.handleRecord(ctx, rest)
}

func (c *consumer) handleRecord(ctx context.Context, record string) {
	for _, line := range recordLines(record) {
		if ctx.Err() != nil {
			return
		}

		rec, err := ParseEvent(line)
		if errors.Is(err, ErrNotData) {
			continue
		}
		if err != nil {
			c.res.Dropped++
			c.opts.logger.Debug("dropped malformed stream record", "label", c.opts.label, "error", err)
			continue
		}

		if rec.Payload.Error != "" {
			c.res.BackendError = rec.Payload.Error
			c.opts.logger.Warn("backend reported stream error", "label", c.opts.label, "error", rec.Payload.Error)
			if c.sink.OnBackendError != nil {
				c.sink.OnBackendError(rec.Payload.Error)
			}
		}
		if rec.Payload.Content == "" {
			continue
		}

		c.text.WriteString(rec.Payload.Content)
		c.res.Tokens++
		if c.tokens != nil {
			c.tokens.Add(ctx, 1, metric.WithAttributes(attribute.String("stream.label", c.opts.label)))
		}
		if c.sink.OnToken != nil {
			c.sink.OnToken(rec.Payload.Content)
		}
	}
}

func (c *consumer) done() (Result, error) {
	c.res.Text = c.text.String()
	c.res.Status = StatusDone
	if c.sink.OnDone != nil {
		c.sink.OnDone(c.res.Text)
	}
	return c.res, nil
}

func (c *consumer) fail(kind, cause error) (Result, error) {
	c.res.Text = c.text.String()
	c.res.Status = StatusError
	if errors.Is(kind, ErrIdleTimeout) {
		c.res.Status = StatusTimeout
	}
	err := &Error{Kind: kind, Partial: c.res.Text, Err: cause}
	if c.sink.OnError != nil {
		c.sink.OnError(err)
	}
	return c.res, err
}

func (c *consumer) cancelled(ctx context.Context) (Result, error) {
	c.res.Text = c.text.String()
	c.res.Status = StatusCancelled
	return c.res, ctx.Err()
}
