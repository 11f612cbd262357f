package client

import "encoding/json"

// Wire types for the gateway<->bridge WebSocket protocol. Every frame is a
// single JSON object discriminated by "type".

// inboundMessage is a frame from the bridge, decoded loosely enough to
// dispatch without a second pass.
type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`

	// Lifecycle notification payloads.
	Code     string        `json:"code,omitempty"`   // qr
	Reason   string        `json:"reason,omitempty"` // auth_failure, disconnected
	State    string        `json:"state,omitempty"`  // state_change
	Message  string        `json:"message,omitempty"`
	Identity *wireIdentity `json:"identity,omitempty"` // ready

	// Command response payload.
	OK    bool            `json:"ok,omitempty"`
	Error *wireError      `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound frame types.
const (
	msgQR            = "qr"
	msgAuthenticated = "authenticated"
	msgReady         = "ready"
	msgAuthFailure   = "auth_failure"
	msgDisconnected  = "disconnected"
	msgStateChange   = "state_change"
	msgError         = "error"
	msgResponse      = "response"
)

type wireIdentity struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// request is a command frame sent to the bridge. Responses are correlated
// by RequestID.
type request struct {
	Type      string `json:"type"` // always "request"
	RequestID string `json:"request_id"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
}

// Bridge command methods.
const (
	methodSendText   = "send_text"
	methodSendMedia  = "send_media"
	methodGetProfile = "get_profile"
	methodLogout     = "logout"
	methodClosePage  = "close_page"
	methodDestroy    = "destroy"
)

type sendTextParams struct {
	JID  string `json:"jid"`
	Text string `json:"text"`
}

type sendMediaParams struct {
	JID     string `json:"jid"`
	Path    string `json:"path"`
	Caption string `json:"caption,omitempty"`
}

type profileData struct {
	Name      string `json:"name"`
	Number    string `json:"number"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func decodeInbound(data []byte) (inboundMessage, error) {
	var msg inboundMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
