package controller

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"Helix/internal/backend"
	"Helix/internal/session"
	"Helix/internal/stream"
)

const (
	chatPrompt     = "You are Helix, an intelligent AI assistant. Answer clearly."
	quickFixPrompt = "Output ONLY the corrected version. Do NOT explain."
	draftPrompt    = "Output ONLY the updated text."
)

// ChatSummary is one sidebar entry.
type ChatSummary struct {
	ID    string
	Title string
}

// Login authenticates and loads the user's chats.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	resp, err := c.api.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}

	c.mu.Lock()
	c.sc.Email = email
	c.sc.Tokens = resp.Tokens
	c.mu.Unlock()

	c.logger.Info("logged in", "email", email, "tokens", resp.Tokens)
	c.loadChats(ctx, email)
	c.saveContext(ctx)
	return nil
}

// Restore resumes a saved UI context without asking for credentials again.
// The chat and notebook that were open are reopened when they still exist.
func (c *Controller) Restore(ctx context.Context, saved session.Context) {
	c.mu.Lock()
	if validModel(saved.Model) {
		c.sc.Model = saved.Model
	}
	c.sc.Email = saved.Email
	c.mu.Unlock()

	if saved.Email == "" {
		return
	}
	c.logger.Info("restoring session", "email", saved.Email)
	c.loadChats(ctx, saved.Email)

	if saved.ChatID != "" {
		if _, err := c.OpenChat(saved.ChatID); err != nil {
			c.logger.Info("saved chat no longer exists", "chat_id", saved.ChatID)
		}
	}
	if saved.NoteID != "" {
		if err := c.OpenNotebook(ctx, saved.NoteID); err != nil {
			c.logger.Warn("failed to reopen notebook", "note_id", saved.NoteID, "error", err)
		}
	}
}

func (c *Controller) loadChats(ctx context.Context, email string) {
	chats, err := c.api.LoadChats(ctx, email)
	if err != nil {
		c.logger.Warn("failed to load chats, starting empty", "error", err)
		chats = session.NewChatList()
	}

	c.mu.Lock()
	c.chats = chats
	if c.chats.Get(c.sc.ChatID) == nil {
		c.sc.ChatID = ""
	}
	c.mu.Unlock()
}

// Logout stops every stream and forgets the user.
func (c *Controller) Logout(ctx context.Context) error {
	c.CancelAll()
	if err := c.autosave(ctx); err != nil {
		c.logger.Warn("failed to save notebook on logout", "error", err)
	}

	c.mu.Lock()
	email := c.sc.Email
	c.sc.Reset()
	c.chats = session.NewChatList()
	c.note = nil
	c.draft = nil
	c.quickFix = ""
	c.attach = false
	c.lastNotebooks, c.lastContacts, c.lastRequests = nil, nil, nil
	c.mu.Unlock()

	c.logger.Info("logged out", "email", email)
	c.saveContext(ctx)
	return nil
}

// BeginRegistration asks the backend for a one-time code for email.
func (c *Controller) BeginRegistration(ctx context.Context, email, password string) error {
	resp, err := c.api.SendOTP(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to start registration: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("registration rejected: %s", resp.Message)
	}

	c.mu.Lock()
	c.pending = &registration{email: email, password: password, otp: resp.OTP}
	c.mu.Unlock()
	return nil
}

// CompleteRegistration checks code, creates the account and logs in.
func (c *Controller) CompleteRegistration(ctx context.Context, code string) error {
	c.mu.Lock()
	reg := c.pending
	c.mu.Unlock()

	if reg == nil {
		return ErrNoRegistration
	}
	if strings.TrimSpace(code) != reg.otp {
		return fmt.Errorf("verification code does not match")
	}
	if err := c.api.Register(ctx, reg.email, reg.password); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	return c.Login(ctx, reg.email, reg.password)
}

// ToggleAttach switches whether chat requests carry the open notebook and
// returns the new setting.
func (c *Controller) ToggleAttach() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attach = !c.attach
	return c.attach
}

// ListChats returns chats newest first.
func (c *Controller) ListChats() []ChatSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.chats.IDs()
	out := make([]ChatSummary, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, ChatSummary{ID: ids[i], Title: c.chats.Get(ids[i]).Title})
	}
	return out
}

// NewChat creates an empty chat and selects it.
func (c *Controller) NewChat() (string, error) {
	if _, err := c.requireLogin(); err != nil {
		return "", err
	}

	id := c.newID()
	c.mu.Lock()
	c.chats.Put(id, &session.Chat{Title: session.DefaultChatTitle, Msgs: []session.Message{}})
	c.sc.ChatID = id
	c.mu.Unlock()

	c.logger.Info("created new chat", "chat_id", id)
	return id, nil
}

// OpenChat selects a chat and returns a copy of it.
func (c *Controller) OpenChat(id string) (session.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chat := c.chats.Get(id)
	if chat == nil {
		return session.Chat{}, fmt.Errorf("%w: %s", ErrNoChat, id)
	}
	c.sc.ChatID = id
	return session.Chat{Title: chat.Title, Msgs: append([]session.Message(nil), chat.Msgs...)}, nil
}

// SendChat appends text to the current chat and streams the reply. A chat
// is created when none is selected. The first message becomes the title.
func (c *Controller) SendChat(ctx context.Context, text string) (*stream.Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	email, err := c.requireLogin()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	chatID := c.sc.ChatID
	c.mu.Unlock()
	if chatID == "" {
		if chatID, err = c.NewChat(); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	chat := c.chats.Get(chatID)
	if chat == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoChat, chatID)
	}
	chat.Msgs = append(chat.Msgs, session.Message{Role: session.RoleUser, Content: text})
	if len(chat.Msgs) == 1 {
		chat.Title = text
	}
	system := chatPrompt
	if c.attach && c.note != nil {
		system += "\nNotebook: " + c.note.Content
	}
	msgs := make([]session.Message, 0, len(chat.Msgs)+1)
	msgs = append(msgs, session.Message{Role: session.RoleSystem, Content: system})
	msgs = append(msgs, chat.Msgs...)
	model := c.sc.Model
	c.mu.Unlock()

	c.saveChats(ctx, email)

	c.printf("\nHelix: ")
	req := backend.StreamRequest{Messages: msgs, Model: model}
	var backendErr inBandError
	return c.startStream(ctx, SurfaceChat, req, stream.Sink{
		OnToken: func(delta string) {
			c.printf("%s", delta)
		},
		OnBackendError: backendErr.record,
		OnDone: func(full string) {
			if backendErr.emptyReply(full) {
				c.logger.Warn("chat reply failed on the backend", "chat_id", chatID, "error", backendErr.msg)
				c.printf("%s\n\n", ErrorText)
				return
			}
			c.printf("\n\n")
			c.mu.Lock()
			if ch := c.chats.Get(chatID); ch != nil {
				ch.Msgs = append(ch.Msgs, session.Message{Role: session.RoleAssistant, Content: full})
			}
			c.mu.Unlock()
			c.saveChats(ctx, email)
			c.chargeTokens(ctx, email, full, model)
		},
		OnError: func(err error) {
			c.printf("\n%s\n\n", ErrorText)
		},
	}), nil
}

func (c *Controller) saveChats(ctx context.Context, email string) {
	c.mu.Lock()
	chats := c.chats.Clone()
	c.mu.Unlock()

	if err := c.api.SaveChats(ctx, email, chats); err != nil {
		c.logger.Error("failed to save chats", "error", err)
	}
}

// chargeTokens bills a finished reply; the backend prices it per word.
func (c *Controller) chargeTokens(ctx context.Context, email, text, model string) {
	balance, err := c.api.DeductTokens(ctx, email, text, model)
	if err != nil {
		c.logger.Warn("failed to deduct tokens", "error", err)
		return
	}
	c.mu.Lock()
	c.sc.Tokens = balance
	c.mu.Unlock()
}

// QuickFix streams a corrected version of text to the quick fix surface.
func (c *Controller) QuickFix(ctx context.Context, text string) (*stream.Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	email, err := c.requireLogin()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	model := c.sc.Model
	c.quickFix = ""
	c.mu.Unlock()

	req := backend.StreamRequest{
		Model: model,
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: quickFixPrompt},
			{Role: session.RoleUser, Content: text},
		},
	}

	c.printf("\nFix: ")
	var backendErr inBandError
	return c.startStream(ctx, SurfaceQuickFix, req, stream.Sink{
		OnToken: func(delta string) {
			c.mu.Lock()
			c.quickFix += delta
			c.mu.Unlock()
			c.printf("%s", delta)
		},
		OnBackendError: backendErr.record,
		OnDone: func(full string) {
			if backendErr.emptyReply(full) {
				c.mu.Lock()
				c.quickFix = ErrorText
				c.mu.Unlock()
				c.printf("%s\n\n", ErrorText)
				return
			}
			c.printf("\n\n")
			c.chargeTokens(ctx, email, full, model)
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.quickFix = ErrorText
			c.mu.Unlock()
			c.printf("\n%s\n\n", ErrorText)
		},
	}), nil
}

// QuickFixResult returns the quick fix surface's text.
func (c *Controller) QuickFixResult() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quickFix
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
