package db

import (
	"time"

	"loomci.dev/loom/cache"
)

type CacheEntry struct {
	Key        cache.Key
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// TouchCacheEntry records that a workflow used this cache key,
// creating the entry on first use.
func (d *DB) TouchCacheEntry(key cache.Key) error {
	_, err := d.Exec(`
		insert into cache_entries (key)
		values (?)
		on conflict(key) do update set last_used_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
	`, string(key))
	return err
}

// StaleCacheEntries returns entries last used before the cutoff.
func (d *DB) StaleCacheEntries(cutoff time.Time) ([]CacheEntry, error) {
	rows, err := d.Query(`
		select key, created_at, last_used_at
		from cache_entries
		where last_used_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var created, lastUsed string
		if err := rows.Scan(&e.Key, &created, &lastUsed); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			e.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, lastUsed); err == nil {
			e.LastUsedAt = t
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (d *DB) DeleteCacheEntry(key cache.Key) error {
	_, err := d.Exec(`delete from cache_entries where key = ?`, string(key))
	return err
}
