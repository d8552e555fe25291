package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JhanGutierrez/ventry/internal/builder"
	"github.com/JhanGutierrez/ventry/internal/engine"
	"github.com/JhanGutierrez/ventry/internal/model"
)

func TestOutputFormatter_SuccessJSONWrapsData(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(createdView{
		Entity:   model.EntityWarehouse,
		ID:       "w-1",
		Label:    "North",
		Mode:     builder.ModeOffline,
		ActionID: "a-1",
	}))

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "w-1", resp.Data["id"])
	assert.Equal(t, "OFFLINE", resp.Data["mode"])
	assert.Equal(t, "a-1", resp.Data["action_id"])
	assert.NotContains(t, resp.Data, "Label", "label is text-only")
}

func TestOutputFormatter_SuccessTextRenderers(t *testing.T) {
	enqueued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		data any
		want []string
	}{
		{
			name: "online create",
			data: createdView{Entity: model.EntityProduct, ID: "p-1", Label: "SKU-1", Mode: builder.ModeOnline},
			want: []string{"Created product p-1 (SKU-1)\n"},
		},
		{
			name: "queued create",
			data: createdView{Entity: model.EntityWarehouse, ID: "w-1", Label: "North", Mode: builder.ModeOffline, ActionID: "a-1"},
			want: []string{`Queued warehouse w-1 (North) as action a-1; run "ventry sync" once online`},
		},
		{
			name: "completed sync",
			data: newReportView(engine.Report{Status: engine.StatusCompleted, Replayed: 2, Affected: []string{"pending_actions", "warehouses"}}),
			want: []string{"Sync completed: 2 replayed (updated pending_actions, warehouses)\n"},
		},
		{
			name: "completed sync with nothing to do",
			data: newReportView(engine.Report{Status: engine.StatusCompleted}),
			want: []string{"Sync completed: 0 replayed\n"},
		},
		{
			name: "skipped sync",
			data: newReportView(engine.Report{Status: engine.StatusSkipped}),
			want: []string{"Sync already running, request ignored"},
		},
		{
			name: "failed sync",
			data: newReportView(engine.Report{Status: engine.StatusFailed, Replayed: 1, Remaining: 3, Err: errors.New("reset")}),
			want: []string{"Sync failed after 1 replayed, 3 remaining: reset"},
		},
		{
			name: "empty queue",
			data: queueView{},
			want: []string{"Queue is empty"},
		},
		{
			name: "queue listing",
			data: queueView{Actions: []queuedAction{
				{ID: "a-1", Entity: model.EntityWarehouse, Intent: model.IntentCreate, EnqueuedAt: enqueued},
				{ID: "a-2", Entity: model.EntityMovement, Intent: model.IntentCreateMovement, EnqueuedAt: enqueued},
			}},
			want: []string{"ACTION", "a-1", "CREATE_MOVEMENT", "2026-01-01T00:00:00Z", "2 pending\n"},
		},
		{
			name: "plain value",
			data: "done",
			want: []string{"done\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf}

			require.NoError(t, formatter.Success(tt.data))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestOutputFormatter_Error(t *testing.T) {
	details := map[string]any{"action_id": "a-1"}

	tests := []struct {
		name    string
		format  string
		verbose bool
		check   func(t *testing.T, out string)
	}{
		{
			name:   "json",
			format: "json",
			check: func(t *testing.T, out string) {
				var resp CLIResponse
				require.NoError(t, json.Unmarshal([]byte(out), &resp))
				assert.Equal(t, "error", resp.Status)
				require.NotNil(t, resp.Error)
				assert.Equal(t, "OFFLINE", resp.Error.Code)
				assert.Equal(t, "backend unreachable", resp.Error.Message)
				assert.NotNil(t, resp.Error.Details)
			},
		},
		{
			name:   "text hides details",
			format: "text",
			check: func(t *testing.T, out string) {
				assert.Equal(t, "Error [OFFLINE]: backend unreachable\n", out)
			},
		},
		{
			name:    "text verbose shows details",
			format:  "text",
			verbose: true,
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "Error [OFFLINE]")
				assert.Contains(t, out, "Details: map[action_id:a-1]")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: tt.format, Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("OFFLINE", "backend unreachable", details))
			tt.check(t, buf.String())
		})
	}
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	diag := &bytes.Buffer{}

	quiet := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}
	quiet.VerboseLog("opening %s", "ventry.db")
	assert.Empty(t, diag.String())

	loud := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}
	loud.VerboseLog("opening %s", "ventry.db")
	assert.Equal(t, "opening ventry.db\n", diag.String())
	assert.Empty(t, out.String(), "diagnostics never corrupt JSON output")
	assert.Same(t, diag, loud.GetErrWriter())

	noErrWriter := &OutputFormatter{Writer: out}
	assert.Same(t, out, noErrWriter.GetErrWriter())
}

func TestOutputFormatter_FailValidation(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := model.NewValidationError("record movement", model.CodeInsufficientStock, model.ErrInsufficientStock)
	err := formatter.Fail("record movement failed", cause)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.ErrorIs(t, err, model.ErrInsufficientStock)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "VALIDATION/INSUFFICIENT_STOCK", resp.Error.Code)
}

func TestOutputFormatter_FailStorage(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Fail("read queue failed",
		model.NewStorageError("get pending_actions", model.CodeCorrupted, errors.New("file is not a database")))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [STORAGE/CORRUPTED]")
}

func TestOutputFormatter_FailDrain(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Fail("sync failed", &engine.DrainError{
		ActionID:  "a-2",
		Entity:    model.EntityProduct,
		Intent:    model.IntentCreate,
		Replayed:  1,
		Remaining: 1,
		Err:       model.NewNetworkError("create products", model.CodeUnavailable, errors.New("reset")),
	})
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "SYNC_FAILED", resp.Error.Code)
	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a-2", details["action_id"])
	assert.Equal(t, "NETWORK/UNAVAILABLE", details["cause"])
}

func TestGetExitCode_PlainError(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.False(t, IsReported(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "open", errors.New("boom"))))
}
