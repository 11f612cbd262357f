// Package api defines the JSON wire types of the gateway's HTTP surface.
package api

import "time"

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CheckSessionResponse reports session standing after a check.
type CheckSessionResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	QRCode           string `json:"qrCode,omitempty"`
	NeedsQR          bool   `json:"needsQR,omitempty"`
	SessionCorrupted bool   `json:"sessionCorrupted,omitempty"`
	NeedsRetry       bool   `json:"needsRetry,omitempty"`
}

// SendMessageRequest is the JSON body of a send without attachment.
type SendMessageRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	MessageText string `json:"messageText"`
}

// SendMessageResponse acknowledges a delivered message.
type SendMessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// LogoutResponse acknowledges a logout. Always status "success".
type LogoutResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ProfileData is the authenticated user's profile.
type ProfileData struct {
	Name          string `json:"name"`
	Number        string `json:"number"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
}

// ProfileResponse wraps ProfileData.
type ProfileResponse struct {
	Status string      `json:"status"`
	Data   ProfileData `json:"data"`
}

// MessageRecord is one entry of the outbound send history.
type MessageRecord struct {
	ID            string    `json:"id"`
	Destination   string    `json:"destination"`
	Body          string    `json:"body"`
	HasAttachment bool      `json:"hasAttachment"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MessageHistoryResponse lists recent sends, newest first.
type MessageHistoryResponse struct {
	Messages []MessageRecord `json:"messages"`
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status string `json:"status"`
	Phase  string `json:"phase"`
}
