package cli

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/runnerr0/procedura/internal/storage"
)

const purgeConfirmation = "PURGE"

// purgeSummary is what a purge removes, reported before and after.
type purgeSummary struct {
	Recording bool  `json:"recording_in_progress"`
	Steps     int   `json:"steps"`
	Queued    int   `json:"queued"`
	Dropped   int64 `json:"dropped"`
	Audit     int64 `json:"audit_entries"`
	SignedIn  bool  `json:"signed_in"`
}

// setDB allows tests to inject a database connection.
func (c *PurgeCommand) setDB(db *sql.DB) {
	c.db = db
}

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	store, closeFn, err := c.store()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	summary, err := summarizePurge(ctx, store)
	if err != nil {
		return err
	}
	if !c.Force {
		if err := confirmPurge(os.Stdin, summary); err != nil {
			return err
		}
	}

	if err := store.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"purged":  true,
			"removed": summary,
		})
	}
	fmt.Printf("Purged all data (%d queued, %d dropped, %d audit entries).\n",
		summary.Queued, summary.Dropped, summary.Audit)
	fmt.Println("Stop `procedura serve` before recording again.")
	return nil
}

func (c *PurgeCommand) store() (*storage.SQLiteStore, func(), error) {
	if c.db != nil {
		store, err := storage.NewSQLiteStore(c.db)
		if err != nil {
			return nil, nil, fmt.Errorf("init store: %w", err)
		}
		return store, func() { store.Close() }, nil
	}
	store, db, err := openStore(c.globals)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		db.Close()
	}, nil
}

func summarizePurge(ctx context.Context, store *storage.SQLiteStore) (purgeSummary, error) {
	var s purgeSummary
	state, _, err := store.LoadRecording(ctx)
	if err != nil {
		return s, fmt.Errorf("load recording: %w", err)
	}
	queue, err := store.LoadQueue(ctx)
	if err != nil {
		return s, fmt.Errorf("load queue: %w", err)
	}
	session, err := store.LoadSession(ctx)
	if err != nil {
		return s, fmt.Errorf("load session: %w", err)
	}
	stats, err := store.GetStats(ctx)
	if err != nil {
		return s, fmt.Errorf("get stats: %w", err)
	}
	s.Recording = state.IsRecording
	s.Steps = len(state.Steps)
	s.Queued = len(queue)
	s.Dropped = stats.DroppedCount
	s.Audit = stats.AuditEntries
	s.SignedIn = session != nil
	return s, nil
}

func confirmPurge(in io.Reader, s purgeSummary) error {
	fmt.Println("⚠ WARNING: This will permanently delete ALL local procedura data.")
	if s.Recording {
		fmt.Printf("  - The recording in progress (%d steps)\n", s.Steps)
	}
	fmt.Printf("  - %d recordings waiting in the offline queue\n", s.Queued)
	fmt.Printf("  - %d dropped recordings and %d audit entries\n", s.Dropped, s.Audit)
	if s.SignedIn {
		fmt.Println("  - The signed-in session")
	}
	fmt.Println()
	fmt.Println("Procedures already synced are not affected. This action cannot be undone.")
	fmt.Println()
	fmt.Printf("Type %q to confirm: ", purgeConfirmation)

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	if strings.TrimSpace(scanner.Text()) != purgeConfirmation {
		return fmt.Errorf("aborted: confirmation text did not match")
	}
	return nil
}
