package controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"Helix/internal/backend"
	"Helix/internal/stream"
)

const helpText = `Available commands:
  /login <email> <password>    - Log in
  /register <email> <password> - Start registration (a code is issued)
  /verify <code>               - Finish registration and log in
  /logout                      - Log out
  /chats                       - List chats
  /new                         - Start a new chat
  /open <n|id>                 - Open a chat
  /model [Standard|Thinking]   - Show or switch the model
  /balance                     - Show the token balance
  /notebooks                   - List notebooks
  /note new|open <n|id>|show|title <t>|write <text>|clear|save|close
  /draft open|run <instruction>|show|insert|cancel
  /fix <text>                  - Quick fix: correct text
  /attach                      - Toggle sending the open notebook with chat
  /friends                     - List friends, requests and conversations
  /addfriend <email>           - Send a friend request
  /accept <n|id>               - Accept a pending friend request
  /dm <n|id>                   - Open a conversation
  /say <text>                  - Send a direct message
  /profile [set name|bio <t>]  - Show or edit your profile
  /runs [n]                    - Show recent streamed responses
  /cancel [chat|draft|quickfix] - Stop streaming
  /help                        - Show this help message
  /quit, /exit                 - Exit
Anything else is sent to the current chat.
`

// Run reads commands from in until /quit, end of input or ctx ends. While a
// response streams, input is still read so it can be cancelled or replaced.
func (c *Controller) Run(ctx context.Context, in io.Reader) error {
	c.printf("=== Helix ===\n")
	if sc := c.Context(); sc.LoggedIn() {
		c.printf("Logged in as %s (model %s)\n", sc.Email, sc.Model)
	} else {
		c.printf("Log in with /login <email> <password>\n")
	}
	c.printf("Type /help for commands, /quit to exit\n\n")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	var active *stream.Session
	for {
		var streaming <-chan struct{}
		if active == nil {
			c.printf("You: ")
		} else {
			streaming = active.Done()
		}

		select {
		case <-ctx.Done():
			c.printf("\n")
			return nil

		case <-streaming:
			active = nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}

			s, quit, err := c.dispatch(ctx, input)
			if err != nil {
				c.printf("Error: %v\n", err)
				c.logger.Warn("command failed", "input", firstWord(input), "error", err)
			}
			if quit {
				return nil
			}
			if s != nil {
				active = s
			}
		}
	}
}

// dispatch runs one line of input.
func (c *Controller) dispatch(ctx context.Context, input string) (*stream.Session, bool, error) {
	if !strings.HasPrefix(input, "/") {
		s, err := c.SendChat(ctx, input)
		return s, false, err
	}
	return c.handleCommand(ctx, input)
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// argRest returns the input after its first n words, spacing kept.
func argRest(input string, n int) string {
	rest := input
	for i := 0; i < n; i++ {
		rest = strings.TrimLeft(rest, " \t")
		j := strings.IndexAny(rest, " \t")
		if j < 0 {
			return ""
		}
		rest = rest[j:]
	}
	return strings.TrimSpace(rest)
}

// handleCommand handles slash commands
func (c *Controller) handleCommand(ctx context.Context, input string) (*stream.Session, bool, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil, false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return nil, true, nil

	case "/help":
		c.printf("%s", helpText)

	case "/login":
		if len(parts) != 3 {
			return nil, false, fmt.Errorf("usage: /login <email> <password>")
		}
		if err := c.Login(ctx, parts[1], parts[2]); err != nil {
			return nil, false, err
		}
		sc := c.Context()
		c.printf("Logged in as %s, %d tokens left\n", sc.Email, sc.Tokens)

	case "/register":
		if len(parts) != 3 {
			return nil, false, fmt.Errorf("usage: /register <email> <password>")
		}
		if err := c.BeginRegistration(ctx, parts[1], parts[2]); err != nil {
			return nil, false, err
		}
		c.printf("A verification code was issued for %s. Finish with /verify <code>\n", parts[1])

	case "/verify":
		if len(parts) != 2 {
			return nil, false, fmt.Errorf("usage: /verify <code>")
		}
		if err := c.CompleteRegistration(ctx, parts[1]); err != nil {
			return nil, false, err
		}
		c.printf("Account created. Logged in as %s\n", c.Context().Email)

	case "/logout":
		if err := c.Logout(ctx); err != nil {
			return nil, false, err
		}
		c.printf("Logged out\n")

	case "/chats":
		chats := c.ListChats()
		if len(chats) == 0 {
			c.printf("No chats yet.\n")
			break
		}
		current := c.Context().ChatID
		for i, ch := range chats {
			marker := ""
			if ch.ID == current {
				marker = " (current)"
			}
			c.printf("%d. %s%s\n", i+1, shorten(ch.Title, 20), marker)
		}

	case "/new":
		if _, err := c.NewChat(); err != nil {
			return nil, false, err
		}
		c.printf("Started a new chat\n")

	case "/open":
		if len(parts) != 2 {
			return nil, false, fmt.Errorf("usage: /open <n|id>")
		}
		id := parts[1]
		if n, err := strconv.Atoi(id); err == nil {
			chats := c.ListChats()
			if n < 1 || n > len(chats) {
				return nil, false, fmt.Errorf("no chat number %d", n)
			}
			id = chats[n-1].ID
		}
		chat, err := c.OpenChat(id)
		if err != nil {
			return nil, false, err
		}
		c.printf("--- %s ---\n", chat.Title)
		for _, m := range chat.Msgs {
			who := "You"
			if m.Role == "assistant" {
				who = "Helix"
			}
			c.printf("%s: %s\n\n", who, m.Content)
		}

	case "/model":
		if len(parts) == 1 {
			c.printf("Model: %s\n", c.Context().Model)
			break
		}
		if err := c.SetModel(ctx, parts[1]); err != nil {
			return nil, false, err
		}
		c.printf("Switched to %s\n", parts[1])

	case "/balance":
		c.printf("%d tokens\n", c.Context().Tokens)

	case "/notebooks":
		list, err := c.ListNotebooks(ctx)
		if err != nil {
			return nil, false, err
		}
		c.mu.Lock()
		c.lastNotebooks = list
		c.mu.Unlock()
		if len(list) == 0 {
			c.printf("No notebooks yet.\n")
		}
		for i, n := range list {
			title := n.Title
			if title == "" {
				title = DefaultNotebookTitle
			}
			c.printf("%d. %s\n", i+1, title)
		}

	case "/note":
		return nil, false, c.handleNote(ctx, input, parts)

	case "/draft":
		return c.handleDraft(ctx, input, parts)

	case "/fix":
		s, err := c.QuickFix(ctx, argRest(input, 1))
		return s, false, err

	case "/friends":
		resp, err := c.Friends(ctx)
		if err != nil {
			return nil, false, err
		}
		for _, f := range resp.Friends {
			c.printf("friend   %s <%s>\n", f.Name, f.Email)
		}
		for i, p := range resp.Pending {
			c.printf("request %d. %s <%s>, /accept %d\n", i+1, p.Name, p.Email, i+1)
		}
		c.mu.Lock()
		c.lastContacts = resp.Contacts
		c.lastRequests = resp.Pending
		c.mu.Unlock()
		for i, k := range resp.Contacts {
			c.printf("%d. %s: %s\n", i+1, k.Name, k.LastMsg)
		}

	case "/dm":
		if len(parts) != 2 {
			return nil, false, fmt.Errorf("usage: /dm <n|id>")
		}
		id := parts[1]
		if n, err := strconv.Atoi(id); err == nil {
			c.mu.Lock()
			contacts := c.lastContacts
			c.mu.Unlock()
			if n < 1 || n > len(contacts) {
				return nil, false, fmt.Errorf("no conversation number %d", n)
			}
			id = contacts[n-1].ID
		}
		msgs, err := c.OpenConversation(ctx, id)
		if err != nil {
			return nil, false, err
		}
		for _, m := range msgs {
			c.printf("%s: %s\n", m.Role, m.Content)
		}

	case "/addfriend":
		if len(parts) != 2 {
			return nil, false, fmt.Errorf("usage: /addfriend <email>")
		}
		msg, err := c.AddFriend(ctx, parts[1])
		if err != nil {
			return nil, false, err
		}
		c.printf("%s\n", msg)

	case "/accept":
		if len(parts) != 2 {
			return nil, false, fmt.Errorf("usage: /accept <n|id>")
		}
		id := parts[1]
		if n, err := strconv.Atoi(id); err == nil {
			c.mu.Lock()
			requests := c.lastRequests
			c.mu.Unlock()
			if n < 1 || n > len(requests) {
				return nil, false, fmt.Errorf("no friend request number %d, run /friends first", n)
			}
			id = requests[n-1].ID
		}
		if err := c.AcceptFriend(ctx, id); err != nil {
			return nil, false, err
		}
		c.printf("Friend request accepted\n")

	case "/attach":
		if c.ToggleAttach() {
			c.printf("Open notebook will be sent with chat messages\n")
		} else {
			c.printf("Notebook detached from chat\n")
		}

	case "/say":
		if err := c.SendMessage(ctx, argRest(input, 1)); err != nil {
			return nil, false, err
		}

	case "/profile":
		if len(parts) == 1 {
			p, err := c.Profile(ctx)
			if err != nil {
				return nil, false, err
			}
			c.printf("%s\n%s\n", p.DisplayName, p.Bio)
			break
		}
		if len(parts) < 4 || parts[1] != "set" {
			return nil, false, fmt.Errorf("usage: /profile set name|bio <text>")
		}
		value := argRest(input, 3)
		var edit func(p *backend.Profile)
		switch parts[2] {
		case "name":
			edit = func(p *backend.Profile) { p.DisplayName = value }
		case "bio":
			edit = func(p *backend.Profile) { p.Bio = value }
		default:
			return nil, false, fmt.Errorf("unknown profile field %s, use name or bio", parts[2])
		}
		if err := c.UpdateProfile(ctx, edit); err != nil {
			return nil, false, err
		}
		c.printf("Profile saved\n")

	case "/runs":
		if c.journal == nil {
			return nil, false, fmt.Errorf("no journal configured")
		}
		limit := 10
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n < 1 {
				return nil, false, fmt.Errorf("usage: /runs [n]")
			}
			limit = n
		}
		runs, err := c.journal.RecentRuns(ctx, limit)
		if err != nil {
			return nil, false, err
		}
		for _, r := range runs {
			c.printf("%s  %-8s %-9s %4d tokens  %s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Surface, r.Status, r.TokenCount, shorten(r.Text, 40))
		}

	case "/cancel":
		surfaces := []Surface{SurfaceChat, SurfaceDraft, SurfaceQuickFix}
		if len(parts) > 1 {
			surfaces = []Surface{Surface(parts[1])}
		}
		stopped := 0
		for _, s := range surfaces {
			if c.Cancel(s) {
				stopped++
			}
		}
		if stopped == 0 {
			c.printf("Nothing is streaming\n")
		} else {
			c.printf("\nCancelled\n")
		}

	default:
		return nil, false, fmt.Errorf("unknown command %s, type /help", parts[0])
	}

	return nil, false, nil
}

func (c *Controller) handleNote(ctx context.Context, input string, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: /note new|open <n|id>|show|title <t>|write <text>|clear|save|close")
	}

	switch parts[1] {
	case "new":
		if _, err := c.NewNotebook(ctx); err != nil {
			return err
		}
		c.printf("New notebook\n")

	case "open":
		if len(parts) != 3 {
			return fmt.Errorf("usage: /note open <n|id>")
		}
		id := parts[2]
		if n, err := strconv.Atoi(id); err == nil {
			c.mu.Lock()
			list := c.lastNotebooks
			c.mu.Unlock()
			if n < 1 || n > len(list) {
				return fmt.Errorf("no notebook number %d, run /notebooks first", n)
			}
			id = list[n-1].ID
		}
		if err := c.OpenNotebook(ctx, id); err != nil {
			return err
		}
		return c.showNote()

	case "show":
		return c.showNote()

	case "title":
		title := argRest(input, 2)
		return c.EditNotebook(func(n *Notebook) { n.Title = title })

	case "write":
		text := argRest(input, 2)
		return c.EditNotebook(func(n *Notebook) {
			if n.Content != "" && !strings.HasSuffix(n.Content, "\n") {
				n.Content += "\n"
			}
			n.Content += text
		})

	case "clear":
		return c.EditNotebook(func(n *Notebook) { n.Content = "" })

	case "save":
		if err := c.SaveNotebook(ctx); err != nil {
			return err
		}
		c.printf("Saved\n")

	case "close":
		return c.CloseNotebook(ctx)

	default:
		return fmt.Errorf("unknown /note action %s", parts[1])
	}
	return nil
}

func (c *Controller) showNote() error {
	n, err := c.Notebook()
	if err != nil {
		return err
	}
	title := n.Title
	if title == "" {
		title = DefaultNotebookTitle
	}
	c.printf("--- %s ---\n%s\n", title, n.Content)
	return nil
}

func (c *Controller) handleDraft(ctx context.Context, input string, parts []string) (*stream.Session, bool, error) {
	if len(parts) < 2 {
		return nil, false, fmt.Errorf("usage: /draft open|run <instruction>|show|insert|cancel")
	}

	switch parts[1] {
	case "open":
		if err := c.OpenDraft(); err != nil {
			return nil, false, err
		}
		c.printf("Draft mode. Use /draft run <instruction>\n")

	case "run":
		s, err := c.RunDraft(ctx, argRest(input, 2))
		return s, false, err

	case "show":
		preview, history, err := c.DraftPreview()
		if err != nil {
			return nil, false, err
		}
		for _, h := range history {
			c.printf("> %s\n", h)
		}
		c.printf("%s\n", preview)

	case "insert":
		if err := c.InsertDraft(ctx); err != nil {
			return nil, false, err
		}
		c.printf("Draft inserted and saved\n")

	case "cancel":
		c.CancelDraft()
		c.printf("Draft discarded\n")

	default:
		return nil, false, fmt.Errorf("unknown /draft action %s", parts[1])
	}
	return nil, false, nil
}
