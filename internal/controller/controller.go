// Package controller holds the UI session state and the operations the
// terminal front end dispatches to: chat, notebooks, drafting, quick fix
// and direct messages. Each output surface streams at most one response at
// a time.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"Helix/internal/backend"
	"Helix/internal/cache"
	"Helix/internal/config"
	"Helix/internal/session"
	"Helix/internal/store"
	"Helix/internal/stream"
)

// Surface is an independent streaming output area.
type Surface string

const (
	SurfaceChat     Surface = "chat"
	SurfaceDraft    Surface = "draft"
	SurfaceQuickFix Surface = "quickfix"
)

// ErrorText replaces a surface's output when its stream fails.
const ErrorText = "[Error]"

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrNoChat         = errors.New("no chat selected")
	ErrNoNotebook     = errors.New("no notebook open")
	ErrNoDraft        = errors.New("draft mode is not open")
	ErrNoContact      = errors.New("no conversation open")
	ErrEmptyInput     = errors.New("nothing to send")
	ErrUnknownModel   = errors.New("unknown model")
	ErrNoRegistration = errors.New("no registration in progress")
	ErrDraftFailed    = errors.New("last draft run failed, nothing to insert")
)

// API is the subset of the backend client the controller uses.
type API interface {
	Login(ctx context.Context, email, password string) (backend.LoginResponse, error)
	SendOTP(ctx context.Context, email string) (backend.OTPResponse, error)
	Register(ctx context.Context, email, password string) error
	LoadChats(ctx context.Context, email string) (*session.ChatList, error)
	SaveChats(ctx context.Context, email string, chats *session.ChatList) error
	DeductTokens(ctx context.Context, email, text, model string) (int, error)
	ListNotebooks(ctx context.Context, email string) ([]backend.NotebookSummary, error)
	GetNotebook(ctx context.Context, id string) (backend.Notebook, error)
	SaveNotebook(ctx context.Context, req backend.SaveNotebookRequest) error
	Profile(ctx context.Context, email string) (backend.Profile, error)
	SaveProfile(ctx context.Context, req backend.SaveProfileRequest) error
	Friends(ctx context.Context, email string) (backend.FriendsResponse, error)
	AddFriend(ctx context.Context, email, target string) (string, error)
	AcceptFriend(ctx context.Context, requestID string) error
	LoadDM(ctx context.Context, contactID string) ([]backend.DMMessage, error)
	SendDM(ctx context.Context, contactID, content string) error
	OpenStream(req backend.StreamRequest) stream.Opener
}

// Journal records finished streams and the UI context.
type Journal interface {
	RecordRun(ctx context.Context, run store.Run) (string, error)
	RecentRuns(ctx context.Context, limit int) ([]store.Run, error)
	SaveContext(ctx context.Context, c session.Context) error
}

// Notebook is the open notebook as edited locally.
type Notebook struct {
	ID      string
	Title   string
	Content string
}

type draftState struct {
	preview string
	history []string
	base    string // text the last run started from
	failed  bool   // the last run ended in ErrorText
}

// inBandError keeps the last `error` record a stream carried, for its OnDone.
type inBandError struct {
	msg string
}

func (e *inBandError) record(msg string) { e.msg = msg }

// emptyReply reports a stream that completed with no text because the
// backend failed.
func (e *inBandError) emptyReply(full string) bool {
	return full == "" && e.msg != ""
}

type registration struct {
	email    string
	password string
	otp      string
}

// Option configures a Controller.
type Option func(*Controller)

// WithJournal records runs and context in j.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithOutput sets where the front end writes.
func WithOutput(w io.Writer) Option {
	return func(c *Controller) { c.out = w }
}

// WithIdleTimeout bounds the silence tolerated on a stream.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

// WithModel sets the initial model key.
func WithModel(model string) Option {
	return func(c *Controller) { c.sc.Model = model }
}

// Controller owns the session context and the per-surface streams.
type Controller struct {
	api         API
	journal     Journal
	logger      *slog.Logger
	notes       *cache.NotebookCache
	idleTimeout time.Duration
	newID       func() string

	outMu sync.Mutex
	out   io.Writer

	mu       sync.Mutex
	sc       session.Context
	chats    *session.ChatList
	note     *Notebook
	draft    *draftState
	quickFix string
	pending  *registration
	streams  map[Surface]*stream.Session
	attach   bool // send the open notebook with chat requests

	// numbered listings shown last, for /note open <n>, /dm <n> and /accept <n>
	lastNotebooks []backend.NotebookSummary
	lastContacts  []backend.Contact
	lastRequests  []backend.FriendRequest

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Controller.
func New(api API, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if api == nil {
		return nil, fmt.Errorf("api cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	c := &Controller{
		api:     api,
		logger:  logger,
		notes:   cache.NewNotebookCache(5 * time.Minute),
		newID:   uuid.NewString,
		out:     os.Stdout,
		chats:   session.NewChatList(),
		streams: make(map[Surface]*stream.Session),
		sc:      session.Context{Model: config.ModelStandard},
	}
	for _, opt := range opts {
		opt(c)
	}
	if !validModel(c.sc.Model) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, c.sc.Model)
	}
	return c, nil
}

func validModel(model string) bool {
	return model == config.ModelStandard || model == config.ModelThinking
}

// Context returns a copy of the session context.
func (c *Controller) Context() session.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sc
}

// SetModel switches the model used for new requests.
func (c *Controller) SetModel(ctx context.Context, model string) error {
	if !validModel(model) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	c.mu.Lock()
	c.sc.Model = model
	c.mu.Unlock()

	c.logger.Info("model changed", "model", model)
	c.saveContext(ctx)
	return nil
}

func (c *Controller) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Controller) saveContext(ctx context.Context) {
	if c.journal == nil {
		return
	}
	sc := c.Context()
	if err := c.journal.SaveContext(ctx, sc); err != nil {
		c.logger.Warn("failed to save ui context", "error", err)
	}
}

func (c *Controller) requireLogin() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sc.LoggedIn() {
		return "", ErrNotLoggedIn
	}
	return c.sc.Email, nil
}

// startStream opens req on surface, cancelling whatever that surface was
// streaming before.
func (c *Controller) startStream(ctx context.Context, surface Surface, req backend.StreamRequest, sink stream.Sink) *stream.Session {
	c.mu.Lock()
	if prev := c.streams[surface]; prev != nil {
		prev.Cancel()
		c.logger.Debug("cancelled previous stream", "surface", surface)
	}

	started := time.Now()
	s := stream.Start(ctx, c.api.OpenStream(req), sink,
		stream.WithIdleTimeout(c.idleTimeout),
		stream.WithLabel(string(surface)),
		stream.WithLogger(c.logger),
	)
	c.streams[surface] = s
	c.wg.Add(1)
	c.mu.Unlock()

	go c.finishStream(context.WithoutCancel(ctx), surface, req.Model, started, s)
	return s
}

// finishStream journals a stream once it ends and releases its surface.
func (c *Controller) finishStream(ctx context.Context, surface Surface, model string, started time.Time, s *stream.Session) {
	defer c.wg.Done()

	res, err := s.Wait()

	c.mu.Lock()
	if c.streams[surface] == s {
		delete(c.streams, surface)
	}
	c.mu.Unlock()

	if err != nil && res.Status != stream.StatusCancelled {
		c.logger.Error("stream failed", "surface", surface, "status", res.Status, "error", err)
	}

	if c.journal == nil {
		return
	}
	run := store.Run{
		Surface:    string(surface),
		Model:      model,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Status:     string(res.Status),
		TokenCount: res.Tokens,
		Text:       res.Text,
	}
	if err != nil {
		run.Error = err.Error()
	} else if res.BackendError != "" {
		run.Error = res.BackendError
	}
	if _, err := c.journal.RecordRun(ctx, run); err != nil {
		c.logger.Warn("failed to record stream run", "surface", surface, "error", err)
	}
}

// Cancel stops the stream on surface, if any.
func (c *Controller) Cancel(surface Surface) bool {
	c.mu.Lock()
	s := c.streams[surface]
	c.mu.Unlock()

	if s == nil {
		return false
	}
	s.Cancel()
	return true
}

// CancelAll stops every stream.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.streams {
		s.Cancel()
	}
}

// Streaming reports whether surface has a stream in flight.
func (c *Controller) Streaming(surface Surface) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[surface] != nil
}

// Shutdown cancels every stream, waits for them to be journaled, saves the
// open notebook if it changed and stores the UI context.
func (c *Controller) Shutdown(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.CancelAll()
		c.wg.Wait()

		if cerr := c.autosave(ctx); cerr != nil {
			err = fmt.Errorf("failed to save notebook: %w", cerr)
		}
		c.saveContext(ctx)
		c.logger.Info("controller stopped")
	})
	return err
}
