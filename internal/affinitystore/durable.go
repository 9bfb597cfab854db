package affinitystore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// Durable persists the affinity table to a sqlite database via
// modernc.org/sqlite's pure-Go driver, so stickiness survives a process
// restart. An affinity selector uses it when its durable_path is set;
// Memory is the default. Reads are served from an in-memory cache warmed
// from the database at open; Set updates the cache and then writes the
// sqlite row synchronously, so each Set waits on disk I/O.
type Durable struct {
	cache *Memory
	db    *sql.DB
}

// OpenDurable opens (creating if absent) a sqlite-backed affinity store at
// path.
func OpenDurable(path string) (*Durable, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("affinitystore: open sqlite at %q: %w", path, err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS affinity (
		consumer_id TEXT NOT NULL,
		assistant_id TEXT NOT NULL,
		endpoint_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (consumer_id, assistant_id)
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("affinitystore: create schema: %w", err)
	}

	d := &Durable{cache: NewMemory(), db: db}
	if err := d.warmCache(); err != nil {
		log.Warn().Err(err).Msg("affinitystore: failed to warm in-memory cache from sqlite, starting cold")
	}
	return d, nil
}

func (d *Durable) warmCache() error {
	rows, err := d.db.Query(`SELECT consumer_id, assistant_id, endpoint_id, expires_at FROM affinity`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	now := time.Now()
	for rows.Next() {
		var consumerID, assistantID, endpointID string
		var expiresAtUnix int64
		if err := rows.Scan(&consumerID, &assistantID, &endpointID, &expiresAtUnix); err != nil {
			return err
		}
		expiresAt := time.Unix(expiresAtUnix, 0)
		if expiresAt.Before(now) {
			continue
		}
		d.cache.Set(consumerID, assistantID, endpointID, expiresAt.Sub(now))
	}
	return rows.Err()
}

func (d *Durable) Get(consumerID, assistantID string) (string, bool) {
	return d.cache.Get(consumerID, assistantID)
}

func (d *Durable) Set(consumerID, assistantID, endpointID string, ttl time.Duration) {
	d.cache.Set(consumerID, assistantID, endpointID, ttl)

	expiresAt := time.Now().Add(ttl).Unix()
	_, err := d.db.Exec(
		`INSERT INTO affinity (consumer_id, assistant_id, endpoint_id, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(consumer_id, assistant_id) DO UPDATE SET endpoint_id = excluded.endpoint_id, expires_at = excluded.expires_at`,
		consumerID, assistantID, endpointID, expiresAt)
	if err != nil {
		log.Warn().Err(err).Str("consumer_id", consumerID).Str("assistant_id", assistantID).Msg("affinitystore: failed to persist affinity entry")
	}
}

func (d *Durable) Size() int { return d.cache.Size() }

func (d *Durable) Close() error { return d.db.Close() }
