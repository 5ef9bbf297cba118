// Package protocol defines the request/response contract spoken between the
// popup, the content script and the background worker.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/runnerr0/procedura/internal/types"
)

// MessageType is one of the closed set of message kinds.
type MessageType string

const (
	GetStatus         MessageType = "GET_STATUS"
	StartRecording    MessageType = "START_RECORDING"
	StopRecording     MessageType = "STOP_RECORDING"
	AddStep           MessageType = "ADD_STEP"
	CaptureScreenshot MessageType = "CAPTURE_SCREENSHOT"
	SyncProcedure     MessageType = "SYNC_PROCEDURE"
	GetSyncStatus     MessageType = "GET_SYNC_STATUS"
	GetUser           MessageType = "GET_USER"
	SignIn            MessageType = "SIGN_IN"
	SignOut           MessageType = "SIGN_OUT"
	RetryQueue        MessageType = "RETRY_QUEUE"
	ClearQueue        MessageType = "CLEAR_QUEUE"

	// Broadcast-only notifications; senders expect no response.
	RecordingStatus MessageType = "RECORDING_STATUS"
	SyncProgress    MessageType = "SYNC_PROGRESS"
	SyncComplete    MessageType = "SYNC_COMPLETE"
	SyncDropped     MessageType = "SYNC_DROPPED"
)

// ErrUnknownType is the error text for message types outside the closed set.
const ErrUnknownType = "unknown message type"

// IsNotification reports whether t is broadcast-only.
func (t MessageType) IsNotification() bool {
	switch t {
	case RecordingStatus, SyncProgress, SyncComplete, SyncDropped:
		return true
	}
	return false
}

// Payload carries the optional request fields. Only the fields relevant to
// the message type are set.
type Payload struct {
	Title       string                 `json:"title,omitempty"`
	Description *string                `json:"description,omitempty"`
	Step        *types.CapturedStep    `json:"step,omitempty"`
	Steps       []types.CapturedStep   `json:"steps,omitempty"`
	TabID       *int                   `json:"tabId,omitempty"`
	ProcedureID string                 `json:"procedureId,omitempty"`
	IsRecording *bool                  `json:"isRecording,omitempty"`
	Email       string                 `json:"email,omitempty"`
	Password    string                 `json:"password,omitempty"`
	Progress    *types.SyncProgress    `json:"progress,omitempty"`
	Result      *SyncResult            `json:"result,omitempty"`
	Dropped     *types.QueuedRecording `json:"dropped,omitempty"`
}

// Request is a single message sent to a receiver.
type Request struct {
	Type    MessageType `json:"type"`
	Payload *Payload    `json:"payload,omitempty"`
}

// Response is the single reply produced for every request.
type Response struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SyncResult is the outcome of one sync attempt.
type SyncResult struct {
	Success     bool   `json:"success"`
	ProcedureID string `json:"procedureId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Sender identifies where a request came from. Requests from the popup have
// no tab.
type Sender struct {
	TabID *int
}

// OK builds a successful response.
func OK(data map[string]any) Response {
	return Response{Success: true, Data: data}
}

// Fail builds a failed response with a human-readable message.
func Fail(format string, args ...any) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Encode serializes a request for the wire.
func Encode(req Request) ([]byte, error) {
	return json.Marshal(req)
}

// Decode parses a request from the wire.
func Decode(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Type == "" {
		return Request{}, fmt.Errorf("decode request: missing type")
	}
	return req, nil
}

// EncodeResponse serializes a response for the wire.
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses a response from the wire.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Int reads an integer field from response data. JSON numbers decode as
// float64, in-process responses carry ints; both are accepted.
func (r Response) Int(key string) (int, bool) {
	switch v := r.Data[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// String reads a string field from response data.
func (r Response) String(key string) (string, bool) {
	v, ok := r.Data[key].(string)
	return v, ok
}

// Bool reads a boolean field from response data.
func (r Response) Bool(key string) bool {
	v, _ := r.Data[key].(bool)
	return v
}
