package stream

import (
	"context"
	"sync"
)

// Session is an asynchronous handle on one in-flight stream.
type Session struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result Result
	err    error
}

// Start opens and consumes a stream in a new goroutine.
func Start(ctx context.Context, open Opener, sink Sink, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer cancel()

		res, err := Run(ctx, open, sink, opts...)

		s.mu.Lock()
		s.result = res
		s.err = err
		s.mu.Unlock()
	}()

	return s
}

// Run opens a stream and consumes it on the calling goroutine. A failure to
// open is a transport failure and is reported through Sink.OnError.
func Run(ctx context.Context, open Opener, sink Sink, opts ...Option) (Result, error) {
	src, err := open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Status: StatusCancelled}, ctx.Err()
		}
		serr := &Error{Kind: ErrTransport, Err: err}
		if sink.OnError != nil {
			sink.OnError(serr)
		}
		return Result{Status: StatusError}, serr
	}
	return Consume(ctx, src, sink, opts...)
}

// Cancel stops the session. No sink callback runs afterwards. Safe to call
// more than once and from inside a sink callback.
func (s *Session) Cancel() {
	if s == nil {
		return
	}
	s.cancel()
}

// Done returns a channel closed when the session has finished.
func (s *Session) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Wait blocks until the session finishes.
func (s *Session) Wait() (Result, error) {
	if s == nil {
		return Result{Status: StatusCancelled}, context.Canceled
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}
