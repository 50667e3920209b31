// Package pgstore backs the Storage capability with a single Postgres
// key/value table, for deployments that already run Postgres and want
// durable idempotency records without another moving part.
package pgstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/paybridge/paybridge/storage"
)

// Store is a Postgres-backed storage.Storage over one table:
//
//	CREATE TABLE IF NOT EXISTS kv_entry (key TEXT PRIMARY KEY, value BYTEA NOT NULL)
type Store struct {
	db *sql.DB
}

// New connects to Postgres, verifies the connection and ensures the
// kv_entry table exists.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", withSimpleProtocol(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_entry (key TEXT PRIMARY KEY, value BYTEA NOT NULL)`); err != nil {
		return nil, fmt.Errorf("failed to create kv_entry table: %w", err)
	}
	return &Store{db: db}, nil
}

// withSimpleProtocol appends disable_prepared_statements=true to the DSN if
// not present. Server-side prepared statements break with PgBouncer
// transaction pooling.
func withSimpleProtocol(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, "disable_prepared_statements=") || strings.Contains(lower, "prefer_simple_protocol=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "disable_prepared_statements=true"
}

func (s *Store) get(key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT value FROM kv_entry WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrKeyNotFound
	}
	return v, err
}

func (s *Store) set(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv_entry (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *Store) GetString(key string) (string, error) {
	v, err := s.get(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *Store) SetString(key, value string) error {
	return s.set(key, []byte(value))
}

func (s *Store) GetInt(key string) (int64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(v), 10, 64)
}

func (s *Store) SetInt(key string, value int64) error {
	return s.set(key, []byte(strconv.FormatInt(value, 10)))
}

func (s *Store) GetBool(key string) (bool, error) {
	v, err := s.get(key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(string(v))
}

func (s *Store) SetBool(key string, value bool) error {
	return s.set(key, []byte(strconv.FormatBool(value)))
}

func (s *Store) GetObject(key string, out any, decode func([]byte, any) error) error {
	v, err := s.get(key)
	if err != nil {
		return err
	}
	return decode(v, out)
}

func (s *Store) SetObject(key string, value any, encode func(any) ([]byte, error)) error {
	b, err := encode(value)
	if err != nil {
		return err
	}
	return s.set(key, b)
}

func (s *Store) Remove(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv_entry WHERE key = $1`, key)
	return err
}

func (s *Store) ContainsKey(key string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM kv_entry WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv_entry WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM kv_entry`)
	return err
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }
