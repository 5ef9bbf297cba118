// Package types defines the records shared between the capture engine, the
// recorder, the sync pipeline and the message protocol.
package types

import "time"

// ActionType is the kind of interaction a step represents.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionInput    ActionType = "input"
	ActionNavigate ActionType = "navigate"
	ActionScroll   ActionType = "scroll"
	ActionSelect   ActionType = "select"
)

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionClick, ActionInput, ActionNavigate, ActionScroll, ActionSelect:
		return true
	}
	return false
}

// CapturedStep is one user interaction observed in a page.
type CapturedStep struct {
	ActionType        ActionType `json:"actionType" msgpack:"actionType"`
	ElementSelector   string     `json:"elementSelector" msgpack:"elementSelector"`
	ElementText       *string    `json:"elementText" msgpack:"elementText"`
	ElementTag        string     `json:"elementTag" msgpack:"elementTag"`
	ClickX            *int       `json:"clickX" msgpack:"clickX"`
	ClickY            *int       `json:"clickY" msgpack:"clickY"`
	PageURL           string     `json:"pageUrl" msgpack:"pageUrl"`
	PageTitle         string     `json:"pageTitle" msgpack:"pageTitle"`
	CapturedAt        string     `json:"capturedAt" msgpack:"capturedAt"`
	ScreenshotDataURL string     `json:"screenshotDataUrl,omitempty" msgpack:"screenshotDataUrl,omitempty"`
}

// RecordingState is the single active recording session.
type RecordingState struct {
	IsRecording bool           `json:"isRecording" msgpack:"isRecording"`
	ProcedureID *string        `json:"procedureId" msgpack:"procedureId"`
	Title       *string        `json:"title" msgpack:"title"`
	Steps       []CapturedStep `json:"steps" msgpack:"steps"`
	StartedAt   *string        `json:"startedAt" msgpack:"startedAt"`
}

// Clone returns a deep copy of s. Callers that hand state out must clone it
// so the owner's slice cannot be mutated through the copy.
func (s RecordingState) Clone() RecordingState {
	c := s
	c.Steps = CloneSteps(s.Steps)
	if s.ProcedureID != nil {
		c.ProcedureID = StringPtr(*s.ProcedureID)
	}
	if s.Title != nil {
		c.Title = StringPtr(*s.Title)
	}
	if s.StartedAt != nil {
		c.StartedAt = StringPtr(*s.StartedAt)
	}
	return c
}

// SyncPhase is the stage a sync attempt is in.
type SyncPhase string

const (
	PhaseIdle      SyncPhase = "idle"
	PhaseCreating  SyncPhase = "creating"
	PhaseUploading SyncPhase = "uploading"
	PhaseSaving    SyncPhase = "saving"
	PhaseComplete  SyncPhase = "complete"
	PhaseError     SyncPhase = "error"
)

// Terminal reports whether no further progress follows p within an attempt.
func (p SyncPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// SyncProgress is a transient snapshot broadcast during one sync attempt.
type SyncProgress struct {
	Phase       SyncPhase `json:"phase"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message"`
	CurrentStep *int      `json:"currentStep,omitempty"`
	TotalSteps  *int      `json:"totalSteps,omitempty"`
}

// QueuedRecording is a recording waiting for a (re)try.
type QueuedRecording struct {
	ID          string         `json:"id" msgpack:"id"`
	Title       string         `json:"title" msgpack:"title"`
	Description *string        `json:"description,omitempty" msgpack:"description,omitempty"`
	Steps       []CapturedStep `json:"steps" msgpack:"steps"`
	CreatedAt   string         `json:"createdAt" msgpack:"createdAt"`
	RetryCount  int            `json:"retryCount" msgpack:"retryCount"`
	LastError   *string        `json:"lastError,omitempty" msgpack:"lastError,omitempty"`
}

// SyncState describes the sync subsystem at one point in time.
type SyncState struct {
	IsOnline        bool              `json:"isOnline"`
	IsSyncing       bool              `json:"isSyncing"`
	CurrentProgress *SyncProgress     `json:"currentProgress"`
	Queue           []QueuedRecording `json:"queue"`
}

// Settings holds user preferences persisted alongside the recording state.
type Settings struct {
	AutoSave               bool `json:"autoSave" msgpack:"autoSave"`
	CaptureDelay           int  `json:"captureDelay" msgpack:"captureDelay"`
	MaxStepsPerRecording   int  `json:"maxStepsPerRecording" msgpack:"maxStepsPerRecording"`
	CompressScreenshots    bool `json:"compressScreenshots" msgpack:"compressScreenshots"`
	ShowRecordingIndicator bool `json:"showRecordingIndicator" msgpack:"showRecordingIndicator"`
}

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() Settings {
	return Settings{
		AutoSave:               true,
		CaptureDelay:           100,
		MaxStepsPerRecording:   100,
		CompressScreenshots:    true,
		ShowRecordingIndicator: true,
	}
}

// Timestamp formats t the way every capturedAt/startedAt/createdAt is stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// CloneSteps copies a step slice.
func CloneSteps(steps []CapturedStep) []CapturedStep {
	if steps == nil {
		return []CapturedStep{}
	}
	out := make([]CapturedStep, len(steps))
	copy(out, steps)
	return out
}

func StringPtr(s string) *string { return &s }

func IntPtr(i int) *int { return &i }

// AuthSession is the signed-in user's token pair, kept in local storage.
type AuthSession struct {
	AccessToken  string `json:"accessToken" msgpack:"accessToken"`
	RefreshToken string `json:"refreshToken" msgpack:"refreshToken"`
	UserID       string `json:"userId" msgpack:"userId"`
	Email        string `json:"email" msgpack:"email"`
	ExpiresAt    int64  `json:"expiresAt" msgpack:"expiresAt"`
}
