// Package kvstore implements the persistent key-value cache and node
// identity store backing <SNAP_COMMON>/kvstore.db: the ARP fallback cache
// consulted by the host resolver (env:net:mac:<mac> keys) and node_id /
// access_key / cached-config persistence.
//
// Grounded on the original's KVStore, minus its Redis front-end: this
// gateway's kvstore has no pub/sub consumer in the reading-engine core,
// so the sqlite-backed PersistentKV table is kept and the Redis layer is
// dropped rather than carried as dead weight.
package kvstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT
);
`

type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Set stores value (JSON-encoded) under key.
func (s *Store) Set(key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(b))
	return err
}

// Get decodes the value stored under key into dst, returning false if
// the key is absent.
func (s *Store) Get(key string, dst interface{}) (bool, error) {
	var raw string
	err := s.db.Get(&raw, "SELECT value FROM kv WHERE key = ?", key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, err
	}
	return true, nil
}

// netMACEntry mirrors the env-scanner's env:net:mac:<mac> cache entries.
type netMACEntry struct {
	IPv4 string `json:"ipv4"`
}

// GetNetMAC implements hostresolve.KVCache: the host resolver's fallback
// lookup when a MAC is absent from the kernel ARP cache.
func (s *Store) GetNetMAC(mac string) (string, bool) {
	var entry netMACEntry
	ok, err := s.Get("env:net:mac:"+mac, &entry)
	if err != nil || !ok {
		return "", false
	}
	return entry.IPv4, entry.IPv4 != ""
}

// Node identity, persisted across restarts.
type NodeIdentity struct {
	NodeID    string `json:"node_id"`
	AccessKey string `json:"access_key"`
}

func (s *Store) GetNodeIdentity() (NodeIdentity, bool, error) {
	var id NodeIdentity
	ok, err := s.Get("node_identity", &id)
	return id, ok, err
}

func (s *Store) SetNodeIdentity(id NodeIdentity) error {
	return s.Set("node_identity", id)
}
