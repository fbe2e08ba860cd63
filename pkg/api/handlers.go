package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/models"
	"dev/bravebird/form-submitter/pkg/report"
	"dev/bravebird/form-submitter/pkg/temporal/workflows"
)

const writeWait = 10 * time.Second

// RecordSource is the read side of the submission tracker
type RecordSource interface {
	report.RecordReader
	Records(ctx context.Context) ([]models.SubmissionRecord, error)
}

// Message is one websocket frame
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StartRunRequest selects which configured targets a run covers; empty means all
type StartRunRequest struct {
	URLs    []string `json:"urls"`
	Timeout int      `json:"timeout"`
}

// Handlers contains API handlers
type Handlers struct {
	records        RecordSource
	targets        []models.Target
	temporalClient client.Client
	hub            *Hub
	snapshotDir    string
	logger         *zap.Logger
	upgrader       websocket.Upgrader
}

// NewHandlers creates new API handlers. temporalClient and hub may be nil; the
// routes that need them answer 503.
func NewHandlers(
	records RecordSource,
	targets []models.Target,
	temporalClient client.Client,
	hub *Hub,
	snapshotDir string,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		records:        records,
		targets:        models.UniqueTargets(targets),
		temporalClient: temporalClient,
		hub:            hub,
		snapshotDir:    snapshotDir,
		logger:         logger.Named("api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==================== Record Handlers ====================

// ListRecords lists every submission record, optionally filtered by ?status=
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.SubmissionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		http.Error(w, "Unknown status "+string(status), http.StatusBadRequest)
		return
	}

	records, err := h.records.Records(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]models.SubmissionRecord, 0, len(records))
	for _, rec := range records {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	respondJSON(w, out)
}

// GetRecord looks up one target by ?url=. A target never attempted reads as NotStarted.
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	rec, found, err := h.records.Get(ctx, url)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		rec = &models.SubmissionRecord{TargetKey: url, Status: models.StatusNotStarted}
	}
	respondJSON(w, rec)
}

// GetSummary reports the configured targets as succeeded or failed. ?format=text
// returns the same lines the CLI prints.
func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, err := report.Summarize(ctx, h.targets, h.records)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.Render(w, summary); err != nil {
			h.logger.Warn("Failed to write summary", zap.Error(err))
		}
		return
	}
	respondJSON(w, summary)
}

// ==================== Run Handlers ====================

// StartRun starts a submission workflow over the configured targets
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.temporalClient == nil {
		http.Error(w, "Temporal not available", http.StatusServiceUnavailable)
		return
	}

	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	targets, err := h.selectTargets(req.URLs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(targets) == 0 {
		http.Error(w, "No targets configured", http.StatusBadRequest)
		return
	}

	runID := uuid.New().String()
	input := workflows.SubmissionRunInput{
		RunID:   runID,
		Targets: targets,
		Timeout: req.Timeout,
	}

	workflowOptions := client.StartWorkflowOptions{
		ID:        workflowID(runID),
		TaskQueue: workflows.TaskQueue,
	}

	we, err := h.temporalClient.ExecuteWorkflow(ctx, workflowOptions, workflows.WorkflowName, input)
	if err != nil {
		http.Error(w, "Failed to start workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info("Started submission run", zap.String("run_id", runID), zap.Int("targets", len(targets)))

	respondJSON(w, map[string]interface{}{
		"run_id":               runID,
		"temporal_workflow_id": we.GetID(),
		"temporal_run_id":      we.GetRunID(),
		"targets":              len(targets),
		"status":               workflows.StatusRunning,
	})
}

func (h *Handlers) selectTargets(urls []string) ([]models.Target, error) {
	if len(urls) == 0 {
		return h.targets, nil
	}
	byKey := make(map[string]models.Target, len(h.targets))
	for _, t := range h.targets {
		byKey[t.Key()] = t
	}
	out := make([]models.Target, 0, len(urls))
	for _, u := range urls {
		t, ok := byKey[u]
		if !ok {
			return nil, fmt.Errorf("unknown target %s", u)
		}
		out = append(out, t)
	}
	return models.UniqueTargets(out), nil
}

// GetRun queries a run's workflow for its progress
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.temporalClient == nil {
		http.Error(w, "Temporal not available", http.StatusServiceUnavailable)
		return
	}

	resp, err := h.temporalClient.QueryWorkflow(ctx, workflowID(id), "", workflows.ProgressQuery)
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	var result workflows.SubmissionRunResult
	if err := resp.Get(&result); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, result)
}

// CancelRun cancels a running workflow. The attempt in flight still completes.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.temporalClient == nil {
		http.Error(w, "Temporal not available", http.StatusServiceUnavailable)
		return
	}

	if err := h.temporalClient.CancelWorkflow(ctx, workflowID(id), ""); err != nil {
		http.Error(w, "Failed to cancel workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]string{"status": "canceling"})
}

// StreamEvents pushes attempt events over a WebSocket until the client goes away
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "Event stream not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	// Reads only serve to notice the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Message{Type: "attempt", Payload: ev}); err != nil {
				h.logger.Debug("Stream client dropped", zap.Error(err))
				return
			}
		}
	}
}

// ==================== Snapshot Handlers ====================

// ServeSnapshot serves a diagnostics file written after a failed attempt
func (h *Handlers) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	if h.snapshotDir == "" {
		http.Error(w, "Snapshots not enabled", http.StatusNotFound)
		return
	}

	// Only files directly inside the snapshot directory
	filePath := filepath.Join(h.snapshotDir, filepath.Base(filename))

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.Error(w, "Snapshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, filePath)
}

// ==================== Helpers ====================

func workflowID(runID string) string {
	return fmt.Sprintf("form-submission-%s", runID)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
