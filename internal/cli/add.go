package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/types"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.Title == "" {
		return fmt.Errorf("--title is required for add command")
	}
	if c.StepsFile == "" {
		return fmt.Errorf("--steps-file is required for add command")
	}

	steps, err := readSteps(c.StepsFile)
	if err != nil {
		return err
	}

	svc, closeFn, err := serviceFor(c.service, c.globals)
	if err != nil {
		return err
	}
	defer closeFn()
	return c.send(context.Background(), svc, steps)
}

// readSteps loads and validates a JSON array of captured steps.
func readSteps(path string) ([]types.CapturedStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading steps file: %w", err)
	}
	var steps []types.CapturedStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parsing steps file: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("steps file %s has no steps", path)
	}
	for i, s := range steps {
		if !s.ActionType.Valid() {
			return nil, fmt.Errorf("step %d: unknown action type %q", i+1, s.ActionType)
		}
	}
	return steps, nil
}

func (c *AddCommand) send(ctx context.Context, svc requester, steps []types.CapturedStep) error {
	payload := &protocol.Payload{Title: c.Title, Steps: steps}
	if c.Description != "" {
		payload.Description = types.StringPtr(c.Description)
	}
	resp, err := svc.Send(ctx, protocol.Request{Type: protocol.SyncProcedure, Payload: payload})
	if err != nil {
		return err
	}
	id, _ := resp.String("procedureId")

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"procedure_id": id,
			"title":        c.Title,
			"steps":        len(steps),
			"success":      resp.Success,
			"error":        resp.Error,
		})
	}

	if !resp.Success {
		// failed or offline attempts are queued by the service
		fmt.Printf("Not synced, queued for retry: %s\n", resp.Error)
		return nil
	}
	fmt.Printf("Synced procedure %s\n", id)
	fmt.Printf("  Title: %s\n", c.Title)
	fmt.Printf("  Steps: %d\n", len(steps))
	return nil
}
