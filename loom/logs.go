package loom

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/hpcloud/tail"

	"loomci.dev/loom/models"
)

// Logs streams a workflow's NDJSON log file. A finished workflow's log
// is served whole; a running one is followed until it reaches a
// terminal status.
func (s *Loom) Logs(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Logs")

	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "workflow")

	pipeline, err := s.db.GetPipeline(models.PipelineId{Id: id})
	if err != nil {
		writeError(w, http.StatusNotFound, "no such pipeline")
		return
	}

	wid := models.WorkflowId{
		PipelineId: models.PipelineId{Host: pipeline.Host, Id: pipeline.Id},
		Name:       name,
	}

	path := models.LogFilePath(s.cfg.Pipelines.LogDir, wid)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "no logs for this workflow")
		return
	}

	follow := true
	if status, err := s.db.GetStatus(wid); err == nil && status.Status.IsFinish() {
		follow = false
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		l.Error("failed to tail log file", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read logs")
		return
	}
	defer t.Stop()

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	ch := s.n.Subscribe()
	defer s.n.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				l.Error("tail error", "error", line.Err)
				return
			}
			fmt.Fprintln(w, line.Text)
			if flusher != nil {
				flusher.Flush()
			}
		case <-ch:
			// a status event may have finished the workflow
			if !follow {
				continue
			}
			if status, err := s.db.GetStatus(wid); err == nil && status.Status.IsFinish() {
				t.StopAtEOF()
				follow = false
			}
		}
	}
}
