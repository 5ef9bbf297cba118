package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/types"
)

// Execute implements the go-flags Commander interface for StartCommand.
func (c *StartCommand) Execute(args []string) error {
	svc, closeFn, err := serviceFor(c.service, c.globals)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	payload := &protocol.Payload{Title: c.Title}
	if c.Tab > 0 {
		payload.TabID = types.IntPtr(c.Tab)
	}
	if _, err := call(ctx, svc, protocol.Request{Type: protocol.StartRecording, Payload: payload}); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	status, err := call(ctx, svc, protocol.Request{Type: protocol.GetStatus})
	if err != nil {
		return err
	}
	id, _ := status.String("procedureId")
	title, _ := status.String("title")

	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{"procedure_id": id, "title": title})
	}
	fmt.Printf("Recording %q (%s)\n", title, id)
	return nil
}

// Execute implements the go-flags Commander interface for StopCommand.
func (c *StopCommand) Execute(args []string) error {
	svc, closeFn, err := serviceFor(c.service, c.globals)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	return c.run(ctx, svc)
}

func (c *StopCommand) run(ctx context.Context, svc requester) error {
	jsonOut := c.globals != nil && c.globals.JSON

	// subscribe before stopping so no progress is missed
	events := make(chan protocol.Request, 64)
	var unwatch func()
	if !c.NoWait {
		var err error
		unwatch, err = svc.Watch(func(req protocol.Request) {
			if req.Type == protocol.SyncProgress || req.Type == protocol.SyncComplete {
				select {
				case events <- req:
				default:
				}
			}
		})
		if err != nil {
			return err
		}
		defer unwatch()
	}

	resp, err := call(ctx, svc, protocol.Request{Type: protocol.StopRecording})
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	steps, _ := resp.Int("stepCount")
	if !jsonOut {
		fmt.Printf("Stopped: %d steps captured\n", steps)
	}
	if steps == 0 || c.NoWait {
		if jsonOut {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{"step_count": steps})
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Payload == nil {
				continue
			}
			if p := ev.Payload.Progress; p != nil && !jsonOut {
				fmt.Printf("[%3d%%] %s\n", p.Progress, p.Message)
			}
			if r := ev.Payload.Result; ev.Type == protocol.SyncComplete && r != nil {
				return reportResult(jsonOut, steps, *r)
			}
		}
	}
}

func reportResult(jsonOut bool, steps int, r protocol.SyncResult) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"step_count":   steps,
			"success":      r.Success,
			"procedure_id": r.ProcedureID,
			"error":        r.Error,
		})
	}
	if r.Success {
		fmt.Printf("Synced procedure %s\n", r.ProcedureID)
		return nil
	}
	fmt.Printf("Not synced: %s\n", r.Error)
	return nil
}
