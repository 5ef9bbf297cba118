package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/runnerr0/procedura/internal/remote"
)

// procedureReader is the part of the remote client open needs.
type procedureReader interface {
	GetProcedure(ctx context.Context, id string) (*remote.Procedure, error)
	ListSteps(ctx context.Context, procedureID string) ([]remote.StepRecord, error)
	ObjectPath(publicURL string) string
	SignedURL(ctx context.Context, path string, expiresIn int) (string, error)
}

// openedStep is a step with a link the reader can actually open.
type openedStep struct {
	remote.StepRecord
	ScreenshotLink string `json:"screenshot_link,omitempty"`
}

// Execute implements the go-flags Commander interface for OpenCommand.
func (c *OpenCommand) Execute(args []string) error {
	if c.ID == "" {
		return fmt.Errorf("--id is required for open command")
	}

	if c.remote == nil {
		cfg := loadConfig(c.globals)
		if cfg.Remote.URL == "" {
			return fmt.Errorf("remote.url is not configured")
		}
		store, db, err := openStore(c.globals)
		if err != nil {
			return err
		}
		defer db.Close()
		defer store.Close()
		c.remote = remote.New(cfg.Remote, cfg.Sync.Bucket, store, nil)
	}

	ctx := context.Background()

	proc, err := c.remote.GetProcedure(ctx, c.ID)
	if err != nil {
		return err
	}
	rows, err := c.remote.ListSteps(ctx, c.ID)
	if err != nil {
		return err
	}
	steps := make([]openedStep, len(rows))
	for i, row := range rows {
		steps[i] = openedStep{StepRecord: row, ScreenshotLink: c.link(ctx, row.ScreenshotURL)}
	}

	if c.globals.JSON || c.Format == "json" {
		return c.outputJSON(proc, steps)
	}
	if c.Format == "full" {
		c.outputFull(proc, steps)
		return nil
	}
	c.outputMarkdown(proc, steps)
	return nil
}

// link signs screenshot URLs that point into the bucket. Anything else is
// returned unchanged.
func (c *OpenCommand) link(ctx context.Context, screenshotURL *string) string {
	if screenshotURL == nil {
		return ""
	}
	path := c.remote.ObjectPath(*screenshotURL)
	if path == "" {
		return *screenshotURL
	}
	signed, err := c.remote.SignedURL(ctx, path, c.Expiry)
	if err != nil {
		return *screenshotURL
	}
	return signed
}

func (c *OpenCommand) outputFull(proc *remote.Procedure, steps []openedStep) {
	fmt.Println(proc.ID)
	fmt.Printf("Title:     %s\n", proc.Title)
	fmt.Printf("Status:    %s\n", proc.Status)
	fmt.Printf("Steps:     %d\n", proc.StepCount)
	if proc.CreatedAt != "" {
		fmt.Printf("Created:   %s\n", proc.CreatedAt)
	}
	fmt.Println()
	for _, s := range steps {
		fmt.Printf("%3d. %-8s %s\n", s.OrderIndex, s.ActionType, describe(s.StepRecord))
		fmt.Printf("     page:   %s\n", s.PageURL)
		if s.ScreenshotLink != "" {
			fmt.Printf("     shot:   %s\n", s.ScreenshotLink)
		}
	}
}

func (c *OpenCommand) outputMarkdown(proc *remote.Procedure, steps []openedStep) {
	fmt.Println("---")
	fmt.Printf("id: %s\n", proc.ID)
	fmt.Printf("title: %s\n", proc.Title)
	fmt.Printf("status: %s\n", proc.Status)
	fmt.Printf("steps: %d\n", proc.StepCount)
	fmt.Println("---")
	fmt.Println()
	fmt.Printf("# %s\n", proc.Title)
	if proc.Description != nil && *proc.Description != "" {
		fmt.Println()
		fmt.Println(*proc.Description)
	}
	if len(steps) == 0 {
		fmt.Println()
		fmt.Println("No steps recorded")
		return
	}
	fmt.Println()
	for _, s := range steps {
		fmt.Printf("%d. **%s** %s\n", s.OrderIndex, s.ActionType, describe(s.StepRecord))
		if s.ScreenshotLink != "" {
			fmt.Printf("   ![step %d](%s)\n", s.OrderIndex, s.ScreenshotLink)
		}
	}
}

func (c *OpenCommand) outputJSON(proc *remote.Procedure, steps []openedStep) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"procedure": proc, "steps": steps})
}

// describe names the element a step acted on.
func describe(s remote.StepRecord) string {
	switch {
	case s.ElementText != nil:
		return fmt.Sprintf("%q", *s.ElementText)
	case s.ElementSelector != nil:
		return "`" + *s.ElementSelector + "`"
	case s.PageTitle != nil:
		return *s.PageTitle
	}
	return s.PageURL
}
