package db

import (
	"fmt"
	"time"

	"loomci.dev/loom/models"
	"loomci.dev/loom/workflow"
)

type Pipeline struct {
	Id          string               `json:"id"`
	Host        string               `json:"host"`
	RepoOwner   string               `json:"repo_owner"`
	RepoName    string               `json:"repo_name"`
	TriggerKind workflow.TriggerKind `json:"trigger_kind"`
	Sha         string               `json:"sha"`
	Created     time.Time            `json:"created"`
}

func (db *DB) CreatePipeline(pid models.PipelineId, tr workflow.TriggerMetadata) error {
	var owner, name string
	if tr.Repo != nil {
		owner, name = tr.Repo.Owner, tr.Repo.Name
	}

	_, err := db.Exec(`
		insert into pipelines (id, host, repo_owner, repo_name, trigger_kind, sha)
		values (?, ?, ?, ?, ?, ?)
	`, pid.Id, pid.Host, owner, name, string(tr.Kind), tr.CommitSha())
	return err
}

func (db *DB) GetPipeline(pid models.PipelineId) (Pipeline, error) {
	var p Pipeline
	var created string
	err := db.QueryRow(`
		select id, host, repo_owner, repo_name, trigger_kind, sha, created
		from pipelines
		where id = ?
	`, pid.Id).Scan(&p.Id, &p.Host, &p.RepoOwner, &p.RepoName, &p.TriggerKind, &p.Sha, &created)
	if err != nil {
		return p, err
	}

	if t, err := time.Parse(time.RFC3339, created); err == nil {
		p.Created = t
	}
	return p, nil
}

// GetPipelines pages through pipelines by id, oldest first.
func (db *DB) GetPipelines(cursor string) ([]Pipeline, error) {
	whereClause := ""
	args := []any{}
	if cursor != "" {
		whereClause = "where created > (select created from pipelines where id = ?)"
		args = append(args, cursor)
	}

	query := fmt.Sprintf(`
		select id, host, repo_owner, repo_name, trigger_kind, sha, created
		from pipelines
		%s
		order by created asc
		limit 100
	`, whereClause)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []Pipeline
	for rows.Next() {
		var p Pipeline
		var created string
		if err := rows.Scan(&p.Id, &p.Host, &p.RepoOwner, &p.RepoName, &p.TriggerKind, &p.Sha, &created); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			p.Created = t
		}
		pipelines = append(pipelines, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pipelines, nil
}
