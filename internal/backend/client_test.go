package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Helix/internal/session"
	"Helix/internal/stream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend routes POST paths to handlers that receive the decoded body.
type fakeBackend struct {
	t      *testing.T
	routes map[string]func(w http.ResponseWriter, body map[string]any)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, http.MethodPost, r.Method)
	assert.Equal(f.t, "application/json", r.Header.Get("Content-Type"))

	h, ok := f.routes[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	var body map[string]any
	if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body)) {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	h(w, body)
}

func newTestClient(t *testing.T, routes map[string]func(w http.ResponseWriter, body map[string]any), opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(&fakeBackend{t: t, routes: routes})
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/", discardLogger(), opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("http://x", nil)
	require.Error(t, err)
	_, err = NewClient("", discardLogger())
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, map[string]func(http.ResponseWriter, map[string]any){
		"/login": func(w http.ResponseWriter, body map[string]any) {
			if body["password"] == "secret" {
				writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tokens": 120})
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "Invalid credentials"})
		},
	})

	resp, err := c.Login(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)
	assert.Equal(t, 120, resp.Tokens)

	_, err = c.Login(context.Background(), "a@b.c", "wrong")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid credentials", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "/login")
}

func TestRegistration(t *testing.T) {
	c := newTestClient(t, map[string]func(http.ResponseWriter, map[string]any){
		"/send-otp": func(w http.ResponseWriter, body map[string]any) {
			if body["email"] == "taken@b.c" {
				writeJSON(w, http.StatusConflict, map[string]any{"status": "error", "message": "Account exists"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "otp": "123456"})
		},
		"/register": func(w http.ResponseWriter, body map[string]any) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		},
	})

	otp, err := c.SendOTP(context.Background(), "new@b.c")
	require.NoError(t, err)
	assert.Equal(t, "123456", otp.OTP)

	_, err = c.SendOTP(context.Background(), "taken@b.c")
	assert.True(t, IsStatus(err, http.StatusConflict))

	require.NoError(t, c.Register(context.Background(), "new@b.c", "pw"))
}

func TestChats(t *testing.T) {
	var saved map[string]any
	c := newTestClient(t, map[string]func(http.ResponseWriter, map[string]any){
		"/chat/load": func(w http.ResponseWriter, body map[string]any) {
			assert.Equal(t, "a@b.c", body["email"])
			io.WriteString(w, `{"z":{"title":"Zed","msgs":[]},"a":{"title":"Ay","msgs":[{"role":"user","content":"hi"}]}}`)
		},
		"/chat/save": func(w http.ResponseWriter, body map[string]any) {
			saved = body
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		},
	})

	chats, err := c.LoadChats(context.Background(), "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a"}, chats.IDs())

	chats.Put("n", &session.Chat{Title: session.DefaultChatTitle})
	require.NoError(t, c.SaveChats(context.Background(), "a@b.c", chats))

	require.NotNil(t, saved)
	assert.Equal(t, "a@b.c", saved["email"])
	assert.Len(t, saved["chats"], 3)
}

func TestNotebooksAndTokens(t *testing.T) {
	var savedNote map[string]any
	c := newTestClient(t, map[string]func(http.ResponseWriter, map[string]any){
		"/notebooks/list": func(w http.ResponseWriter, body map[string]any) {
			writeJSON(w, http.StatusOK, []map[string]string{{"id": "n1", "title": "Ideas"}})
		},
		"/notebooks/get": func(w http.ResponseWriter, body map[string]any) {
			writeJSON(w, http.StatusOK, map[string]string{"title": "Ideas", "content": "body of " + body["id"].(string)})
		},
		"/notebooks/save": func(w http.ResponseWriter, body map[string]any) {
			savedNote = body
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		},
		"/tokens/deduct": func(w http.ResponseWriter, body map[string]any) {
			assert.Equal(t, "Thinking", body["model"])
			writeJSON(w, http.StatusOK, map[string]int{"balance": 97})
		},
	})
	ctx := context.Background()

	list, err := c.ListNotebooks(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, []NotebookSummary{{ID: "n1", Title: "Ideas"}}, list)

	nb, err := c.GetNotebook(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, Notebook{Title: "Ideas", Content: "body of n1"}, nb)

	require.NoError(t, c.SaveNotebook(ctx, SaveNotebookRequest{ID: "n1", Email: "a@b.c", Title: "T", Content: "C"}))
	assert.Equal(t, map[string]any{"id": "n1", "email": "a@b.c", "title": "T", "content": "C"}, savedNote)

	bal, err := c.DeductTokens(ctx, "a@b.c", "three word reply", "Thinking")
	require.NoError(t, err)
	assert.Equal(t, 97, bal)
}

func TestFriendsAndDMs(t *testing.T) {
	c := newTestClient(t, map[string]func(http.ResponseWriter, map[string]any){
		"/dms/friends": func(w http.ResponseWriter, body map[string]any) {
			io.WriteString(w, `{"friends":[{"email":"f@b.c","name":"F","avatar":"#555","status":"accepted"}],"pending":[],"contacts":[{"id":"k1","name":"Kay","last_msg":"yo"}]}`)
		},
		"/dms/load": func(w http.ResponseWriter, body map[string]any) {
			assert.Equal(t, "k1", body["contact_id"])
			io.WriteString(w, `[{"role":"user","content":"yo","is_draft":0}]`)
		},
		"/dms/send": func(w http.ResponseWriter, body map[string]any) {
			assert.Equal(t, "user", body["role"])
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		},
		"/profile": func(w http.ResponseWriter, body map[string]any) {
			io.WriteString(w, `{"display_name":"a","bio":"New Helix User","avatar_color":"#8AB4F8","avatar_path":null}`)
		},
	})
	ctx := context.Background()

	fr, err := c.Friends(ctx, "a@b.c")
	require.NoError(t, err)
	require.Len(t, fr.Contacts, 1)
	assert.Equal(t, "Kay", fr.Contacts[0].Name)
	assert.Equal(t, "F", fr.Friends[0].Name)

	msgs, err := c.LoadDM(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []DMMessage{{Role: "user", Content: "yo"}}, msgs)

	require.NoError(t, c.SendDM(ctx, "k1", "hello"))

	p, err := c.Profile(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "New Helix User", p.Bio)
	assert.Nil(t, p.AvatarPath)
}

func TestProfileAndFriendRequests(t *testing.T) {
	var savedProfile, accepted map[string]any
	c := newTestClient(t, map[string]func(http.ResponseWriter, map[string]any){
		"/profile/save": func(w http.ResponseWriter, body map[string]any) {
			savedProfile = body
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		},
		"/dms/add_friend": func(w http.ResponseWriter, body map[string]any) {
			assert.Equal(t, "a@b.c", body["user_email"])
			if body["target_email"] == "ghost@b.c" {
				writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": "User not found."})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Request sent!"})
		},
		"/dms/accept_friend": func(w http.ResponseWriter, body map[string]any) {
			accepted = body
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		},
	})
	ctx := context.Background()

	require.NoError(t, c.SaveProfile(ctx, SaveProfileRequest{Email: "a@b.c", DisplayName: "Ada", Bio: "hi"}))
	assert.Equal(t, "Ada", savedProfile["display_name"])
	assert.Equal(t, "hi", savedProfile["bio"])
	v, ok := savedProfile["avatar_path"]
	assert.True(t, ok, "avatar_path is always sent")
	assert.Nil(t, v)

	msg, err := c.AddFriend(ctx, "a@b.c", "f@b.c")
	require.NoError(t, err)
	assert.Equal(t, "Request sent!", msg)

	_, err = c.AddFriend(ctx, "a@b.c", "ghost@b.c")
	assert.ErrorContains(t, err, "User not found.")

	require.NoError(t, c.AcceptFriend(ctx, "r1"))
	assert.Equal(t, "r1", accepted["request_id"])
}

func TestPost_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, discardLogger())
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "a", "b")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestOpenStreamHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, streamPath, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req StreamRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Standard", req.Model)
		assert.Len(t, req.Messages, 2)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"data: {\"content\":\"He", "llo\"}\n\n", "data: {\"content\":\"!\"}\n\n"} {
			io.WriteString(w, part)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, discardLogger(), WithReadBuffer(8))
	require.NoError(t, err)

	var tokens []string
	res, err := stream.Run(context.Background(), c.OpenStream(StreamRequest{
		Model: "Standard",
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: "sys"},
			{Role: session.RoleUser, Content: "hi"},
		},
	}), stream.Sink{OnToken: func(d string) { tokens = append(tokens, d) }})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", "!"}, tokens)
	assert.Equal(t, "Hello!", res.Text)
}

func TestOpenStreamHTTP_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, discardLogger())
	require.NoError(t, err)

	var gotErr error
	_, err = stream.Run(context.Background(), c.OpenStream(StreamRequest{Model: "Standard"}),
		stream.Sink{OnError: func(err error) { gotErr = err }})
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrTransport)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
	assert.Equal(t, err, gotErr)
}

func TestOpenStreamWS(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req StreamRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		reply := "data: {\"content\":\"" + req.Messages[0].Content + "\"}\n\n"
		conn.WriteMessage(websocket.TextMessage, []byte(reply[:7]))
		conn.WriteMessage(websocket.TextMessage, []byte(reply[7:]))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	c, err := NewClient(srv.URL, discardLogger(), WithWebSocketURL(wsURL))
	require.NoError(t, err)

	res, err := stream.Run(context.Background(), c.OpenStream(StreamRequest{
		Model:    "Standard",
		Messages: []session.Message{{Role: session.RoleUser, Content: "echo"}},
	}), stream.Sink{})
	require.NoError(t, err)
	assert.Equal(t, "echo", res.Text)
}
