package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/procedura/internal/storage"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	store, db, err := openStore(c.globals)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()
	return c.executeWithStore(store, time.Now())
}

// executeWithStore prunes dropped recordings older than the retention
// period measured from now (for testing).
func (c *PruneCommand) executeWithStore(store *storage.SQLiteStore, now time.Time) error {
	retention, err := parseDuration(c.OlderThan)
	if err != nil {
		return err
	}
	cutoff := now.Add(-retention)
	ctx := context.Background()

	var n int64
	if c.DryRun {
		n, err = store.CountDroppedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
	} else {
		n, err = store.PruneDropped(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			if err := store.Audit(ctx, "prune", fmt.Sprintf("%d dropped recordings", n), ""); err != nil {
				return err
			}
		}
	}

	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"pruned":  n,
			"dry_run": c.DryRun,
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
		})
	}

	verb := "Pruned"
	if c.DryRun {
		verb = "Would prune"
	}
	fmt.Printf("%s %d dropped recordings older than %s.\n", verb, n, formatDurationHuman(retention))
	return nil
}
