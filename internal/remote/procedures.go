package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/runnerr0/procedura/internal/types"
)

// Procedure statuses.
const (
	StatusDraft      = "draft"
	StatusRecording  = "recording"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Procedure is a procedure row.
type Procedure struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id,omitempty"`
	Title        string  `json:"title"`
	Description  *string `json:"description"`
	Status       string  `json:"status"`
	StepCount    int     `json:"step_count"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
	CreatedAt    string  `json:"created_at,omitempty"`
}

// StepRecord is a step row as inserted and returned by the record store.
type StepRecord struct {
	ID              string           `json:"id,omitempty"`
	ProcedureID     string           `json:"procedure_id"`
	OrderIndex      int              `json:"order_index"`
	ScreenshotURL   *string          `json:"screenshot_url"`
	ActionType      types.ActionType `json:"action_type"`
	ElementSelector *string          `json:"element_selector"`
	ElementText     *string          `json:"element_text"`
	ElementTag      *string          `json:"element_tag"`
	ClickX          *int             `json:"click_x"`
	ClickY          *int             `json:"click_y"`
	PageURL         string           `json:"page_url"`
	PageTitle       *string          `json:"page_title"`
	CapturedAt      string           `json:"captured_at"`
}

// NewStepRecord maps a captured step to its row. orderIndex is 1-based.
func NewStepRecord(procedureID string, orderIndex int, step types.CapturedStep, screenshotURL *string) StepRecord {
	return StepRecord{
		ProcedureID:     procedureID,
		OrderIndex:      orderIndex,
		ScreenshotURL:   screenshotURL,
		ActionType:      step.ActionType,
		ElementSelector: nonEmpty(step.ElementSelector),
		ElementText:     step.ElementText,
		ElementTag:      nonEmpty(step.ElementTag),
		ClickX:          step.ClickX,
		ClickY:          step.ClickY,
		PageURL:         step.PageURL,
		PageTitle:       nonEmpty(step.PageTitle),
		CapturedAt:      step.CapturedAt,
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var representation = map[string]string{
	"Content-Type": "application/json",
	"Prefer":       "return=representation",
}

// CreateProcedure inserts a procedure owned by the signed-in user with
// status "recording".
func (c *Client) CreateProcedure(ctx context.Context, title string, description *string) (*Procedure, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return nil, err
	}
	body, err := jsonBody(map[string]any{
		"user_id":     userID,
		"title":       title,
		"description": description,
		"status":      StatusRecording,
	})
	if err != nil {
		return nil, err
	}

	var rows []Procedure
	err = c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/rest/v1/procedures",
		query:   url.Values{"select": {"id,title,status"}},
		body:    body,
		headers: representation,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("create procedure: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("create procedure: no row returned")
	}
	return &rows[0], nil
}

func (c *Client) updateProcedure(ctx context.Context, id string, fields map[string]any) error {
	body, err := jsonBody(fields)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:  http.MethodPatch,
		path:    "/rest/v1/procedures",
		query:   url.Values{"id": {"eq." + id}},
		body:    body,
		headers: map[string]string{"Content-Type": "application/json"},
	}, nil)
}

// UpdateStatus sets a procedure's status.
func (c *Client) UpdateStatus(ctx context.Context, id, status string) error {
	if err := c.updateProcedure(ctx, id, map[string]any{"status": status}); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// UpdateSummary sets the step count and thumbnail of a procedure.
func (c *Client) UpdateSummary(ctx context.Context, id string, stepCount int, thumbnailURL *string) error {
	err := c.updateProcedure(ctx, id, map[string]any{
		"step_count":    stepCount,
		"thumbnail_url": thumbnailURL,
	})
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

// InsertSteps batch-inserts step rows and returns the stored rows.
func (c *Client) InsertSteps(ctx context.Context, steps []StepRecord) ([]StepRecord, error) {
	if len(steps) == 0 {
		return []StepRecord{}, nil
	}
	body, err := jsonBody(steps)
	if err != nil {
		return nil, err
	}
	var rows []StepRecord
	err = c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/rest/v1/steps",
		body:    body,
		headers: representation,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("insert steps: %w", err)
	}
	return rows, nil
}

// GetProcedure loads one procedure.
func (c *Client) GetProcedure(ctx context.Context, id string) (*Procedure, error) {
	var rows []Procedure
	err := c.get(ctx, request{
		path:  "/rest/v1/procedures",
		query: url.Values{"select": {"*"}, "id": {"eq." + id}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("get procedure: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("procedure %s not found", id)
	}
	return &rows[0], nil
}

// ListSteps loads a procedure's steps in order.
func (c *Client) ListSteps(ctx context.Context, procedureID string) ([]StepRecord, error) {
	var rows []StepRecord
	err := c.get(ctx, request{
		path: "/rest/v1/steps",
		query: url.Values{
			"select":       {"*"},
			"procedure_id": {"eq." + procedureID},
			"order":        {"order_index.asc"},
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return rows, nil
}
