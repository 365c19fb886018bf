package backend

import "Helix/internal/session"

// StatusResponse is the generic {status, message} reply.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the backend accepted the request.
func (r StatusResponse) OK() bool {
	return r.Status == "ok"
}

// Credentials is the body of /login and /register.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the reply from /login.
type LoginResponse struct {
	StatusResponse
	Tokens int `json:"tokens"`
}

// OTPResponse is the reply from /send-otp. The backend returns the code
// itself while email delivery is not configured.
type OTPResponse struct {
	StatusResponse
	OTP string `json:"otp,omitempty"`
}

// EmailRequest is the body of every call keyed only by user.
type EmailRequest struct {
	Email string `json:"email"`
}

// SaveChatsRequest is the body of /chat/save.
type SaveChatsRequest struct {
	Email string            `json:"email"`
	Chats *session.ChatList `json:"chats"`
}

// StreamRequest is the body of /chat/stream.
type StreamRequest struct {
	Messages []session.Message `json:"messages"`
	Model    string            `json:"model"`
}

// DeductRequest is the body of /tokens/deduct.
type DeductRequest struct {
	Email string `json:"email"`
	Text  string `json:"text"`
	Model string `json:"model"`
}

// BalanceResponse is the reply from /tokens/deduct.
type BalanceResponse struct {
	Balance int `json:"balance"`
}

// NotebookSummary is one entry of /notebooks/list.
type NotebookSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// NotebookRequest is the body of /notebooks/get.
type NotebookRequest struct {
	ID string `json:"id"`
}

// Notebook is the reply from /notebooks/get.
type Notebook struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SaveNotebookRequest is the body of /notebooks/save.
type SaveNotebookRequest struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Profile is the reply from /profile.
type Profile struct {
	DisplayName string  `json:"display_name"`
	Bio         string  `json:"bio"`
	AvatarColor string  `json:"avatar_color"`
	AvatarPath  *string `json:"avatar_path"`
}

// SaveProfileRequest is the body of /profile/save. Every field is
// written, so unchanged values must be sent back as they were.
type SaveProfileRequest struct {
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Bio         string  `json:"bio"`
	AvatarPath  *string `json:"avatar_path"`
}

// Friend is an accepted friendship.
type Friend struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Status string `json:"status"`
}

// FriendRequest is a pending request addressed to the user.
type FriendRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Contact is a direct message thread.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LastMsg string `json:"last_msg"`
}

// FriendsResponse is the reply from /dms/friends.
type FriendsResponse struct {
	Friends  []Friend        `json:"friends"`
	Pending  []FriendRequest `json:"pending"`
	Contacts []Contact       `json:"contacts"`
}

// DMMessage is one message of a direct thread.
type DMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	IsDraft int    `json:"is_draft,omitempty"`
}

// AddFriendRequest is the body of /dms/add_friend.
type AddFriendRequest struct {
	UserEmail   string `json:"user_email"`
	TargetEmail string `json:"target_email"`
}

// AcceptFriendRequest is the body of /dms/accept_friend.
type AcceptFriendRequest struct {
	RequestID string `json:"request_id"`
}

// DMLoadRequest is the body of /dms/load.
type DMLoadRequest struct {
	ContactID string `json:"contact_id"`
}

// DMSendRequest is the body of /dms/send.
type DMSendRequest struct {
	ContactID string `json:"contact_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}
