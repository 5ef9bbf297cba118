package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/storage"
	"github.com/runnerr0/procedura/internal/types"
)

// Execute implements the go-flags Commander interface for QueueCommand.
func (c *QueueCommand) Execute(args []string) error {
	if c.Retry && c.Clear {
		return fmt.Errorf("--retry and --clear are mutually exclusive")
	}
	if c.Retry || c.Clear {
		svc, closeFn, err := serviceFor(c.service, c.globals)
		if err != nil {
			return err
		}
		defer closeFn()
		return c.manage(context.Background(), svc)
	}

	store, db, err := openStore(c.globals)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()
	return c.listWithStore(store)
}

// manage forwards --retry/--clear to the service, which owns the queue
// while it runs.
func (c *QueueCommand) manage(ctx context.Context, svc requester) error {
	msg := protocol.RetryQueue
	if c.Clear {
		msg = protocol.ClearQueue
	}
	resp, err := call(ctx, svc, protocol.Request{Type: msg})
	if err != nil {
		return err
	}
	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(resp.Data)
	}
	if c.Clear {
		n, _ := resp.Int("cleared")
		fmt.Printf("Cleared %d queued recordings.\n", n)
		return nil
	}
	before, _ := resp.Int("queued")
	left, _ := resp.Int("queueCount")
	fmt.Printf("Retried %d recordings, %d still queued.\n", before, left)
	return nil
}

// listWithStore prints the persisted queue (for testing).
func (c *QueueCommand) listWithStore(store *storage.SQLiteStore) error {
	queue, err := store.LoadQueue(context.Background())
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(queue)
	}
	if len(queue) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	rows := make([][]string, 0, len(queue))
	for _, q := range queue {
		rows = append(rows, []string{q.ID, q.Title, strconv.Itoa(len(q.Steps)), strconv.Itoa(q.RetryCount), q.CreatedAt, lastError(q)})
	}
	return renderTable([]string{"ID", "Title", "Steps", "Retries", "Created", "Last error"}, rows)
}

// Execute implements the go-flags Commander interface for DroppedCommand.
func (c *DroppedCommand) Execute(args []string) error {
	store, db, err := openStore(c.globals)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()
	return c.executeWithStore(store)
}

func (c *DroppedCommand) executeWithStore(store *storage.SQLiteStore) error {
	dropped, err := store.ListDropped(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dropped)
	}
	if len(dropped) == 0 {
		fmt.Println("No dropped recordings.")
		return nil
	}

	rows := make([][]string, 0, len(dropped))
	for _, d := range dropped {
		rows = append(rows, []string{
			d.ID, d.Title, strconv.Itoa(len(d.Steps)), strconv.Itoa(d.RetryCount),
			d.DroppedAt.Local().Format("2006-01-02 15:04"), lastError(d.QueuedRecording),
		})
	}
	return renderTable([]string{"ID", "Title", "Steps", "Retries", "Dropped", "Last error"}, rows)
}

func renderTable(header []string, rows [][]string) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header(header)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("table append: %w", err)
		}
	}
	return table.Render()
}

func lastError(q types.QueuedRecording) string {
	if q.LastError == nil {
		return ""
	}
	return *q.LastError
}
