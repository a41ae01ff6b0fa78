package db

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists pipelines (
			id text primary key,
			host text not null,
			repo_owner text not null,
			repo_name text not null,
			trigger_kind text not null,
			sha text not null,
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);

		-- status event for a single workflow
		create table if not exists events (
			pipeline_id text not null,
			workflow text not null,
			event text not null, -- json
			created integer not null -- unix nanos
		);

		create table if not exists cache_entries (
			key text primary key,
			created_at text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			last_used_at text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}
