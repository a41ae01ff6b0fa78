package db

import (
	"encoding/json"
	"fmt"
	"time"

	"loomci.dev/loom/models"
	"loomci.dev/loom/notifier"
)

// WorkflowStatus is the json payload stored on a status event and
// streamed to subscribers.
type WorkflowStatus struct {
	PipelineId string            `json:"pipeline_id"`
	Workflow   string            `json:"workflow"`
	Status     models.StatusKind `json:"status"`
	Error      *string           `json:"error,omitempty"`
	ExitCode   *int64            `json:"exit_code,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

type Event struct {
	PipelineId string `json:"pipeline_id"`
	Workflow   string `json:"workflow"`
	Created    int64  `json:"created"`
	EventJson  string `json:"event"`
}

func (d *DB) InsertEvent(event Event, n *notifier.Notifier) error {
	_, err := d.Exec(
		`insert into events (pipeline_id, workflow, event, created) values (?, ?, ?, ?)`,
		event.PipelineId,
		event.Workflow,
		event.EventJson,
		time.Now().UnixNano(),
	)

	n.NotifyAll()

	return err
}

// GetEvents pages through status events newer than cursor (unix
// nanos), oldest first.
func (d *DB) GetEvents(cursor int64) ([]Event, error) {
	whereClause := ""
	args := []any{}
	if cursor > 0 {
		whereClause = "where created > ?"
		args = append(args, cursor)
	}

	query := fmt.Sprintf(`
		select pipeline_id, workflow, event, created
		from events
		%s
		order by created asc
		limit 100
	`, whereClause)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.PipelineId, &ev.Workflow, &ev.EventJson, &ev.Created); err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evts, nil
}

func (d *DB) createStatusEvent(
	wid models.WorkflowId,
	statusKind models.StatusKind,
	workflowError *string,
	exitCode *int64,
	n *notifier.Notifier,
) error {
	now := time.Now()
	s := WorkflowStatus{
		PipelineId: wid.PipelineId.String(),
		Workflow:   wid.Name,
		Status:     statusKind,
		Error:      workflowError,
		ExitCode:   exitCode,
		CreatedAt:  now.Format(time.RFC3339),
	}

	eventJson, err := json.Marshal(s)
	if err != nil {
		return err
	}

	event := Event{
		PipelineId: wid.PipelineId.String(),
		Workflow:   wid.Name,
		Created:    now.UnixNano(),
		EventJson:  string(eventJson),
	}

	return d.InsertEvent(event, n)
}

// GetStatus returns the most recent status of a workflow.
func (d *DB) GetStatus(wid models.WorkflowId) (*WorkflowStatus, error) {
	var eventJson string
	err := d.QueryRow(
		`
		select event from events
		where pipeline_id = ? and workflow = ?
		order by created desc
		limit 1
		`,
		wid.PipelineId.String(),
		wid.Name,
	).Scan(&eventJson)
	if err != nil {
		return nil, err
	}

	var status WorkflowStatus
	if err := json.Unmarshal([]byte(eventJson), &status); err != nil {
		return nil, err
	}

	return &status, nil
}

func (d *DB) StatusPending(wid models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(wid, models.StatusKindPending, nil, nil, n)
}

func (d *DB) StatusRunning(wid models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(wid, models.StatusKindRunning, nil, nil, n)
}

func (d *DB) StatusFailed(wid models.WorkflowId, workflowError string, exitCode int64, n *notifier.Notifier) error {
	return d.createStatusEvent(wid, models.StatusKindFailed, &workflowError, &exitCode, n)
}

func (d *DB) StatusSuccess(wid models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(wid, models.StatusKindSuccess, nil, nil, n)
}

func (d *DB) StatusTimeout(wid models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(wid, models.StatusKindTimeout, nil, nil, n)
}

func (d *DB) StatusSkipped(wid models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(wid, models.StatusKindSkipped, nil, nil, n)
}
