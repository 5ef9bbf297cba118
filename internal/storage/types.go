package storage

import (
	"time"

	"github.com/runnerr0/procedura/internal/types"
)

// Keys of the values kept in the kv table.
const (
	KeyRecordingState = "recordingState"
	KeyActiveTabID    = "activeTabId"
	KeySettings       = "settings"
	KeySyncQueue      = "proceduraai_sync_queue"
	KeyAuthSession    = "authSession"
)

// DroppedRecording is a queued recording that exhausted its retries.
type DroppedRecording struct {
	types.QueuedRecording
	DroppedAt time.Time
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID     int64
	Action string
	Detail string
	RefID  string
	TS     time.Time
}

// Stats holds aggregate statistics about the local database.
type Stats struct {
	Keys          int64
	DroppedCount  int64
	AuditEntries  int64
	LastDroppedAt time.Time
	LastActivity  time.Time
}
