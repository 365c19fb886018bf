// Package backend is the HTTP client for the local Helix backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"Helix/internal/session"
	"Helix/internal/stream"
)

const instrumentationName = "Helix/internal/backend"

// APIError is a non-2xx reply from the backend.
type APIError struct {
	Path       string
	StatusCode int
	Message    string // the reply's "message" field, when it has one
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d on %s: %s", e.StatusCode, e.Path, e.Message)
	}
	return fmt.Sprintf("API error %d on %s: %s", e.StatusCode, e.Path, strings.TrimSpace(e.Body))
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the client used for ordinary requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithWebSocketURL makes streams use the websocket transport at url.
func WithWebSocketURL(url string) ClientOption {
	return func(c *Client) { c.wsURL = url }
}

// WithReadBuffer sets the chunk size for HTTP stream bodies.
func WithReadBuffer(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.readBuffer = n
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

// WithMeter sets the meter.
func WithMeter(m metric.Meter) ClientOption {
	return func(c *Client) { c.meter = m }
}

// Client calls the backend API. All endpoints are POST with a JSON body.
type Client struct {
	baseURL      string
	wsURL        string
	readBuffer   int
	httpClient   *http.Client
	streamClient *http.Client
	dialer       *websocket.Dialer
	logger       *slog.Logger
	tracer       trace.Tracer
	meter        metric.Meter
	duration     metric.Float64Histogram
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		readBuffer: stream.DefaultReadBuffer,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		streamClient: &http.Client{
			Timeout: 0, // streams are bounded by the consumer's idle timeout
		},
		dialer: websocket.DefaultDialer,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}

	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		c.duration = histogram
	}

	return c, nil
}

func (c *Client) recordDuration(ctx context.Context, path string, start time.Time, status int) {
	if c.duration == nil {
		return
	}
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(
			attribute.String("http.route", path),
			attribute.Int("http.response.status_code", status),
		))
}

// post sends body to path and decodes the reply into out when out is non-nil.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "backend "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.route", path)))
	defer span.End()

	start := time.Now()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.recordDuration(ctx, path, start, resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(path, resp.StatusCode, data)
		span.SetStatus(codes.Error, apiErr.Error())
		c.logger.Warn("backend request failed", "path", path, "status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func newAPIError(path string, status int, body []byte) *APIError {
	apiErr := &APIError{Path: path, StatusCode: status, Body: string(body)}
	var sr StatusResponse
	if json.Unmarshal(body, &sr) == nil {
		apiErr.Message = sr.Message
	}
	return apiErr
}

// Login checks credentials and returns the token balance.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/login", Credentials{Email: email, Password: password}, &resp); err != nil {
		return LoginResponse{}, err
	}
	if !resp.OK() {
		return resp, fmt.Errorf("login rejected: %s", resp.Message)
	}
	return resp, nil
}

// SendOTP starts registration for email.
func (c *Client) SendOTP(ctx context.Context, email string) (OTPResponse, error) {
	var resp OTPResponse
	if err := c.post(ctx, "/send-otp", EmailRequest{Email: email}, &resp); err != nil {
		return OTPResponse{}, err
	}
	return resp, nil
}

// Register creates the account once the OTP was verified.
func (c *Client) Register(ctx context.Context, email, password string) error {
	var resp StatusResponse
	if err := c.post(ctx, "/register", Credentials{Email: email, Password: password}, &resp); err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("registration rejected: %s", resp.Message)
	}
	return nil
}

// LoadChats returns the user's saved chats.
func (c *Client) LoadChats(ctx context.Context, email string) (*session.ChatList, error) {
	chats := session.NewChatList()
	if err := c.post(ctx, "/chat/load", EmailRequest{Email: email}, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// SaveChats replaces the user's saved chats.
func (c *Client) SaveChats(ctx context.Context, email string, chats *session.ChatList) error {
	return c.post(ctx, "/chat/save", SaveChatsRequest{Email: email, Chats: chats}, nil)
}

// DeductTokens charges for text and returns the new balance.
func (c *Client) DeductTokens(ctx context.Context, email, text, model string) (int, error) {
	var resp BalanceResponse
	if err := c.post(ctx, "/tokens/deduct", DeductRequest{Email: email, Text: text, Model: model}, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// ListNotebooks returns the user's notebooks, most recently updated first.
func (c *Client) ListNotebooks(ctx context.Context, email string) ([]NotebookSummary, error) {
	var resp []NotebookSummary
	if err := c.post(ctx, "/notebooks/list", EmailRequest{Email: email}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetNotebook fetches one notebook. Unknown ids come back as an empty
// "Untitled" notebook.
func (c *Client) GetNotebook(ctx context.Context, id string) (Notebook, error) {
	var resp Notebook
	if err := c.post(ctx, "/notebooks/get", NotebookRequest{ID: id}, &resp); err != nil {
		return Notebook{}, err
	}
	return resp, nil
}

// SaveNotebook creates or replaces a notebook.
func (c *Client) SaveNotebook(ctx context.Context, req SaveNotebookRequest) error {
	return c.post(ctx, "/notebooks/save", req, nil)
}

// Profile returns the user's profile.
func (c *Client) Profile(ctx context.Context, email string) (Profile, error) {
	var resp Profile
	if err := c.post(ctx, "/profile", EmailRequest{Email: email}, &resp); err != nil {
		return Profile{}, err
	}
	return resp, nil
}

// Friends returns friends, pending requests and direct message contacts.
func (c *Client) Friends(ctx context.Context, email string) (FriendsResponse, error) {
	var resp FriendsResponse
	if err := c.post(ctx, "/dms/friends", EmailRequest{Email: email}, &resp); err != nil {
		return FriendsResponse{}, err
	}
	return resp, nil
}

// LoadDM returns a direct message thread, oldest first.
func (c *Client) LoadDM(ctx context.Context, contactID string) ([]DMMessage, error) {
	var resp []DMMessage
	if err := c.post(ctx, "/dms/load", DMLoadRequest{ContactID: contactID}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendDM appends a user message to a direct thread.
func (c *Client) SendDM(ctx context.Context, contactID, content string) error {
	return c.post(ctx, "/dms/send", DMSendRequest{ContactID: contactID, Role: session.RoleUser, Content: content}, nil)
}

// SaveProfile replaces the user's profile.
func (c *Client) SaveProfile(ctx context.Context, req SaveProfileRequest) error {
	return c.post(ctx, "/profile/save", req, nil)
}

// AddFriend sends a friend request from email to target and returns the
// backend's confirmation.
func (c *Client) AddFriend(ctx context.Context, email, target string) (string, error) {
	var resp StatusResponse
	if err := c.post(ctx, "/dms/add_friend", AddFriendRequest{UserEmail: email, TargetEmail: target}, &resp); err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("friend request rejected: %s", resp.Message)
	}
	return resp.Message, nil
}

// AcceptFriend accepts a pending request by id.
func (c *Client) AcceptFriend(ctx context.Context, requestID string) error {
	return c.post(ctx, "/dms/accept_friend", AcceptFriendRequest{RequestID: requestID}, nil)
}
