package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/storage"
	"github.com/runnerr0/procedura/internal/types"
)

// statusProbeTimeout bounds the live status query.
const statusProbeTimeout = 2 * time.Second

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string `json:"version"`
	DatabasePath      string `json:"database_path"`
	DatabaseSizeBytes int64  `json:"database_size_bytes"`
	SchemaVersion     int    `json:"schema_version"`
	Recording         bool   `json:"recording"`
	ProcedureID       string `json:"procedure_id,omitempty"`
	Title             string `json:"title,omitempty"`
	StepCount         int    `json:"step_count"`
	QueueCount        int    `json:"queue_count"`
	DroppedCount      int64  `json:"dropped_count"`
	AuditEntries      int64  `json:"audit_entries"`
	LastActivity      string `json:"last_activity,omitempty"`
	SignedIn          string `json:"signed_in,omitempty"`
	ServiceRunning    bool   `json:"service_running"`
	Online            *bool  `json:"online,omitempty"`
	Syncing           bool   `json:"syncing"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	store, db, err := openStore(c.globals)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	if c.service == nil {
		if client, closeFn, err := dialService(c.globals); err == nil {
			defer closeFn()
			c.service = client
		}
	}
	return c.executeWithStore(store, db)
}

// executeWithStore runs status against a provided store and db (for testing).
func (c *StatusCommand) executeWithStore(store *storage.SQLiteStore, db *sql.DB) error {
	ctx := context.Background()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	state, _, err := store.LoadRecording(ctx)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	queue, err := store.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	session, err := store.LoadSession(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	schema, err := storage.NewMigrationRunner(db).SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	dbPath, _ := resolveDBPath(c.globals)
	out := statusJSON{
		SchemaVersion:     schema,
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: getDatabaseSize(db, dbPath),
		Recording:         state.IsRecording,
		StepCount:         len(state.Steps),
		QueueCount:        len(queue),
		DroppedCount:      stats.DroppedCount,
		AuditEntries:      stats.AuditEntries,
	}
	if state.ProcedureID != nil {
		out.ProcedureID = *state.ProcedureID
	}
	if state.Title != nil {
		out.Title = *state.Title
	}
	if !stats.LastActivity.IsZero() {
		out.LastActivity = stats.LastActivity.UTC().Format(time.RFC3339)
	}
	if session != nil {
		out.SignedIn = session.Email
	}
	c.probe(&out)

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	c.printStatusHuman(out, state)
	return nil
}

// probe fills the live fields from the running service, if any.
func (c *StatusCommand) probe(out *statusJSON) {
	if c.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusProbeTimeout)
	defer cancel()
	resp, err := c.service.Send(ctx, protocol.Request{Type: protocol.GetSyncStatus})
	if err != nil || !resp.Success {
		return
	}
	out.ServiceRunning = true
	online := resp.Bool("isOnline")
	out.Online = &online
	out.Syncing = resp.Bool("isSyncing")
	if n, ok := resp.Int("queueCount"); ok {
		out.QueueCount = n
	}
}

func (c *StatusCommand) printStatusHuman(out statusJSON, state types.RecordingState) {
	fmt.Println("Procedura Status")
	fmt.Println("================")
	fmt.Printf("Version:       %s\n", out.Version)
	fmt.Printf("Database:      %s (%s, schema v%d)\n", out.DatabasePath, formatBytes(out.DatabaseSizeBytes), out.SchemaVersion)
	if out.Recording {
		fmt.Printf("Recording:     %q (%s steps)\n", out.Title, formatNumber(int64(out.StepCount)))
		if state.StartedAt != nil {
			fmt.Printf("Started:       %s\n", *state.StartedAt)
		}
	} else {
		fmt.Println("Recording:     idle")
	}
	fmt.Printf("Queued:        %s\n", formatNumber(int64(out.QueueCount)))
	fmt.Printf("Dropped:       %s\n", formatNumber(out.DroppedCount))
	if out.LastActivity != "" {
		fmt.Printf("Last change:   %s\n", out.LastActivity)
	}
	if out.SignedIn != "" {
		fmt.Printf("Signed in:     %s\n", out.SignedIn)
	} else {
		fmt.Println("Signed in:     no")
	}

	fmt.Println()
	if !out.ServiceRunning {
		fmt.Println("Service:       not running")
		return
	}
	fmt.Println("Service:       running")
	switch {
	case out.Syncing:
		fmt.Println("Sync:          syncing")
	case out.Online != nil && !*out.Online:
		fmt.Println("Sync:          offline")
	default:
		fmt.Println("Sync:          idle")
	}
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
