package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	// database/sql driver for postgres
	_ "github.com/lib/pq"
)

// PostgresBackend keeps all collections in one table of a postgres
// schema. Values are serialized to JSON. Stores are direct and counters
// are atomic thanks to an upsert.
type PostgresBackend struct {
	db     *sql.DB
	schema string
}

// NewPostgresBackend connects to the database and prepares the schema
// and the store table.
func NewPostgresBackend(dsn, schema string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE schema IF NOT EXISTS ` + schema); err != nil {
		return nil, fmt.Errorf("cannot create schema %s: %w", schema, err)
	}
	_, err = db.Exec(`CREATE table IF NOT EXISTS ` + schema + `."_store_"
(collection varchar NOT NULL,
key varchar NOT NULL,
value json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(collection, key)
);`)
	if err != nil {
		return nil, fmt.Errorf("cannot create store table: %w", err)
	}
	return &PostgresBackend{db: db, schema: schema}, nil
}

// Close closes the database connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

// Open returns the store of the collection. Collections exist as soon
// as they hold a key, so Open never touches the database.
func (b *PostgresBackend) Open(collection string) (Store, error) {
	return &PostgresStore{backend: b, collection: collection}, nil
}

// Stores lists the distinct collection names present in the table.
func (b *PostgresBackend) Stores() ([]string, error) {
	rows, err := b.db.Query(`SELECT DISTINCT collection FROM ` + b.schema + `."_store_";`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// PostgresStore is a direct store backed by the rows of one collection.
type PostgresStore struct {
	backend    *PostgresBackend
	collection string
}

// Get reads and decodes the value at key.
func (s *PostgresStore) Get(key string) (interface{}, error) {
	var raw json.RawMessage
	err := s.backend.db.QueryRow(
		`SELECT value FROM `+s.backend.schema+`."_store_" WHERE collection=$1 AND key=$2;`,
		s.collection, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, &KeyError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read key `%s`: %w", key, err)
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("key `%s` is corrupted: %w", key, err)
	}
	return value, nil
}

// Set upserts the value at key.
func (s *PostgresStore) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.backend.db.Exec(
		`INSERT INTO `+s.backend.schema+`."_store_"(collection,key,value,timestamp)
VALUES($1,$2,$3,$4)
ON CONFLICT (collection,key) DO UPDATE SET value=$3,timestamp=$4;`,
		s.collection, key, string(raw), time.Now().UTC())
	return err
}

// Delete removes the key row.
func (s *PostgresStore) Delete(key string) error {
	res, err := s.backend.db.Exec(
		`DELETE FROM `+s.backend.schema+`."_store_" WHERE collection=$1 AND key=$2;`,
		s.collection, key)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return &KeyError{Key: key}
	}
	return nil
}

// Keys lists the keys of the collection in sorted order.
func (s *PostgresStore) Keys() ([]string, error) {
	rows, err := s.backend.db.Query(
		`SELECT key FROM `+s.backend.schema+`."_store_" WHERE collection=$1 ORDER BY key;`,
		s.collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Incr adds by to the counter at key in a single upsert.
func (s *PostgresStore) Incr(key string, by int64) (int64, error) {
	var current int64
	err := s.backend.db.QueryRow(
		`INSERT INTO `+s.backend.schema+`."_store_"(collection,key,value,timestamp)
VALUES($1,$2,to_json($3::bigint),$4)
ON CONFLICT (collection,key) DO UPDATE
SET value=to_json((`+s.backend.schema+`."_store_".value::text)::bigint + $3),timestamp=$4
RETURNING (value::text)::bigint;`,
		s.collection, key, by, time.Now().UTC()).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("cannot increment key `%s`: %w", key, err)
	}
	return current, nil
}

// Save is a no-op; every Set already persisted.
func (s *PostgresStore) Save() error {
	return nil
}

// Drop deletes all rows of the collection.
func (s *PostgresStore) Drop() error {
	_, err := s.backend.db.Exec(
		`DELETE FROM `+s.backend.schema+`."_store_" WHERE collection=$1;`,
		s.collection)
	return err
}
