package loom

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"loomci.dev/loom/models"
	"loomci.dev/loom/queue"
	"loomci.dev/loom/workflow"
)

// PipelinePayload is what a forge posts to trigger a pipeline: the
// trigger, the repo's workflow files, and the contents of any
// lockfiles those workflows derive cache keys from.
type PipelinePayload struct {
	Trigger   workflow.TriggerMetadata `json:"trigger"`
	Workflows []PayloadWorkflow        `json:"workflows"`
	Lockfiles map[string][]byte        `json:"lockfiles,omitempty"`
}

type PayloadWorkflow struct {
	Name     string `json:"name"`
	Contents []byte `json:"contents"`
}

type PipelineResponse struct {
	Id          string   `json:"id"`
	Diagnostics []string `json:"diagnostics,omitempty"`
	Workflows   []string `json:"workflows"`
	Skipped     bool     `json:"skipped"`
}

func (s *Loom) NewPipeline(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "NewPipeline")

	var payload PipelinePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	if payload.Trigger.Repo == nil {
		writeError(w, http.StatusBadRequest, "trigger carries no repository")
		return
	}

	raw := workflow.RawPipeline{Lockfiles: payload.Lockfiles}
	for _, pw := range payload.Workflows {
		raw.Workflows = append(raw.Workflows, workflow.RawWorkflow{
			Name:     pw.Name,
			Contents: pw.Contents,
		})
	}

	compiler := workflow.Compiler{Trigger: payload.Trigger}
	parsed := compiler.Parse(raw)
	cp := compiler.Compile(parsed, raw.Lockfiles)

	if compiler.Diagnostics.IsErr() {
		resp := PipelineResponse{}
		for _, e := range compiler.Diagnostics.Errors {
			resp.Diagnostics = append(resp.Diagnostics, e.String())
		}
		for _, warning := range compiler.Diagnostics.Warnings {
			resp.Diagnostics = append(resp.Diagnostics, warning.String())
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	pid := models.PipelineId{
		Host: payload.Trigger.Repo.Host,
		Id:   uuid.New().String(),
	}

	if err := s.db.CreatePipeline(pid, payload.Trigger); err != nil {
		l.Error("failed to record pipeline", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record pipeline")
		return
	}

	resp := PipelineResponse{Id: pid.Id}
	for _, warning := range compiler.Diagnostics.Warnings {
		resp.Diagnostics = append(resp.Diagnostics, warning.String())
	}

	// a vetoed trigger compiles to an empty pipeline; record skips and
	// acknowledge without enqueueing anything
	if len(cp.Workflows) == 0 {
		s.markSkipped(pid, parsed)
		resp.Skipped = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	for _, wf := range cp.Workflows {
		wid := models.WorkflowId{PipelineId: pid, Name: wf.Name}
		if err := s.db.StatusPending(wid, s.n); err != nil {
			l.Error("failed to record pending status", "workflow", wid, "error", err)
		}
		resp.Workflows = append(resp.Workflows, wf.Name)
	}

	// the run outlives this request
	runCtx := context.WithoutCancel(r.Context())
	ok := s.jq.Enqueue(queue.Job{
		Run: func() error {
			return s.runPipeline(runCtx, pid, cp)
		},
		OnFail: func(jobError error) {
			l.Error("pipeline run failed", "id", pid.Id, "error", jobError)
		},
	})
	if !ok {
		l.Error("failed to enqueue pipeline: queue is full", "id", pid.Id)
		writeError(w, http.StatusServiceUnavailable, "queue is full")
		return
	}

	l.Info("pipeline enqueued", "id", pid.Id, "workflows", len(cp.Workflows))
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Loom) Pipelines(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")

	pipelines, err := s.db.GetPipelines(cursor)
	if err != nil {
		s.l.Error("failed to list pipelines", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list pipelines")
		return
	}

	writeJSON(w, http.StatusOK, pipelines)
}

func (s *Loom) Pipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pipeline, err := s.db.GetPipeline(models.PipelineId{Id: id})
	if err != nil {
		writeError(w, http.StatusNotFound, "no such pipeline")
		return
	}

	writeJSON(w, http.StatusOK, pipeline)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
