package controller

import (
	"context"
	"fmt"
	"strings"

	"Helix/internal/backend"
	"Helix/internal/session"
	"Helix/internal/stream"
)

// DefaultNotebookTitle names a notebook that has none.
const DefaultNotebookTitle = "Untitled"

// ListNotebooks returns the user's notebooks.
func (c *Controller) ListNotebooks(ctx context.Context) ([]backend.NotebookSummary, error) {
	email, err := c.requireLogin()
	if err != nil {
		return nil, err
	}
	list, err := c.api.ListNotebooks(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list notebooks: %w", err)
	}
	return list, nil
}

// OpenNotebook saves the current notebook if it changed, then opens id.
func (c *Controller) OpenNotebook(ctx context.Context, id string) error {
	if _, err := c.requireLogin(); err != nil {
		return err
	}
	if err := c.closeNotebook(ctx); err != nil {
		return err
	}

	nb, ok := c.notes.Load(id)
	if !ok {
		fetched, err := c.api.GetNotebook(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load notebook: %w", err)
		}
		c.notes.Store(id, fetched.Title, fetched.Content)
		nb.Title, nb.Content = fetched.Title, fetched.Content
	} else {
		c.logger.Debug("notebook cache hit", "note_id", id)
	}

	c.mu.Lock()
	c.note = &Notebook{ID: id, Title: nb.Title, Content: nb.Content}
	c.sc.NoteID = id
	c.mu.Unlock()

	c.logger.Info("opened notebook", "note_id", id)
	c.saveContext(ctx)
	return nil
}

// NewNotebook saves the current notebook if it changed and starts an empty
// one with a fresh id. It reaches the backend once it has been edited and
// saved.
func (c *Controller) NewNotebook(ctx context.Context) (string, error) {
	if _, err := c.requireLogin(); err != nil {
		return "", err
	}
	if err := c.closeNotebook(ctx); err != nil {
		return "", err
	}

	id := c.newID()
	// An untouched new notebook is not worth saving.
	c.notes.Store(id, DefaultNotebookTitle, "")

	c.mu.Lock()
	c.note = &Notebook{ID: id, Title: DefaultNotebookTitle}
	c.sc.NoteID = id
	c.mu.Unlock()

	c.logger.Info("created notebook", "note_id", id)
	c.saveContext(ctx)
	return id, nil
}

// Notebook returns a copy of the open notebook.
func (c *Controller) Notebook() (Notebook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.note == nil {
		return Notebook{}, ErrNoNotebook
	}
	return *c.note, nil
}

// EditNotebook applies edit to the open notebook.
func (c *Controller) EditNotebook(edit func(n *Notebook)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.note == nil {
		return ErrNoNotebook
	}
	edit(c.note)
	return nil
}

// SaveNotebook writes the open notebook to the backend.
func (c *Controller) SaveNotebook(ctx context.Context) error {
	email, err := c.requireLogin()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.note == nil {
		c.mu.Unlock()
		return ErrNoNotebook
	}
	n := *c.note
	c.mu.Unlock()

	title := n.Title
	if strings.TrimSpace(title) == "" {
		title = DefaultNotebookTitle
	}

	err = c.api.SaveNotebook(ctx, backend.SaveNotebookRequest{
		ID:      n.ID,
		Email:   email,
		Title:   title,
		Content: n.Content,
	})
	if err != nil {
		c.notes.Invalidate(n.ID)
		return fmt.Errorf("failed to save notebook: %w", err)
	}

	c.notes.Store(n.ID, n.Title, n.Content)
	c.logger.Info("notebook saved", "note_id", n.ID, "bytes", len(n.Content))
	return nil
}

// autosave saves the open notebook when it differs from what the backend
// last returned or accepted.
func (c *Controller) autosave(ctx context.Context) error {
	c.mu.Lock()
	n := c.note
	loggedIn := c.sc.LoggedIn()
	var id, title, content string
	if n != nil {
		id, title, content = n.ID, n.Title, n.Content
	}
	c.mu.Unlock()

	if n == nil || !loggedIn {
		return nil
	}
	if c.notes.Unchanged(id, title, content) {
		c.logger.Debug("notebook unchanged, skipping save", "note_id", id)
		return nil
	}
	return c.SaveNotebook(ctx)
}

func (c *Controller) closeNotebook(ctx context.Context) error {
	if err := c.autosave(ctx); err != nil {
		return err
	}
	c.Cancel(SurfaceDraft)

	c.mu.Lock()
	c.note = nil
	c.draft = nil
	c.sc.NoteID = ""
	c.mu.Unlock()
	return nil
}

// CloseNotebook saves the open notebook if it changed and closes it.
func (c *Controller) CloseNotebook(ctx context.Context) error {
	if err := c.closeNotebook(ctx); err != nil {
		return err
	}
	c.saveContext(ctx)
	return nil
}

// OpenDraft enters draft mode with the notebook's text as the preview.
func (c *Controller) OpenDraft() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.note == nil {
		return ErrNoNotebook
	}
	c.draft = &draftState{preview: c.note.Content}
	return nil
}

// DraftPreview returns the draft preview and the instructions run so far.
func (c *Controller) DraftPreview() (string, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return "", nil, ErrNoDraft
	}
	return c.draft.preview, append([]string(nil), c.draft.history...), nil
}

// RunDraft asks the model to rewrite the preview per instruction. The
// preview is replaced by the streamed text, starting at the first token.
// After a failed run the next one starts from the text the failed one had.
func (c *Controller) RunDraft(ctx context.Context, instruction string) (*stream.Session, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, ErrEmptyInput
	}
	email, err := c.requireLogin()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	d := c.draft
	if d == nil {
		c.mu.Unlock()
		return nil, ErrNoDraft
	}
	d.history = append(d.history, instruction)
	current := d.preview
	if d.failed {
		// Retry from the text the failed run was given.
		current = d.base
		d.preview = d.base
		d.failed = false
	}
	d.base = current
	model := c.sc.Model
	c.mu.Unlock()

	req := backend.StreamRequest{
		Model: model,
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: draftPrompt},
			{Role: session.RoleUser, Content: "Current:\n" + current + "\n\nInstruction: " + instruction},
		},
	}

	first := true
	var backendErr inBandError
	fail := func() {
		c.mu.Lock()
		if c.draft == d {
			d.preview = ErrorText
			d.failed = true
		}
		c.mu.Unlock()
		c.printf("\n%s\n\n", ErrorText)
	}

	c.printf("\nDraft: ")
	return c.startStream(ctx, SurfaceDraft, req, stream.Sink{
		OnToken: func(delta string) {
			c.mu.Lock()
			if c.draft == d {
				if first {
					d.preview = ""
					first = false
				}
				d.preview += delta
			}
			c.mu.Unlock()
			c.printf("%s", delta)
		},
		OnBackendError: backendErr.record,
		OnDone: func(full string) {
			if backendErr.emptyReply(full) {
				fail()
				return
			}
			c.printf("\n\n")
			c.chargeTokens(ctx, email, full, model)
		},
		OnError: func(err error) {
			fail()
		},
	}), nil
}

// InsertDraft copies the preview into the notebook, saves it and leaves
// draft mode. A preview left by a failed run is never inserted.
func (c *Controller) InsertDraft(ctx context.Context) error {
	c.Cancel(SurfaceDraft)

	c.mu.Lock()
	if c.draft == nil {
		c.mu.Unlock()
		return ErrNoDraft
	}
	if c.note == nil {
		c.mu.Unlock()
		return ErrNoNotebook
	}
	if c.draft.failed {
		c.mu.Unlock()
		return ErrDraftFailed
	}
	c.note.Content = c.draft.preview
	c.draft = nil
	c.mu.Unlock()

	return c.SaveNotebook(ctx)
}

// CancelDraft leaves draft mode without touching the notebook.
func (c *Controller) CancelDraft() {
	c.Cancel(SurfaceDraft)
	c.mu.Lock()
	c.draft = nil
	c.mu.Unlock()
}
