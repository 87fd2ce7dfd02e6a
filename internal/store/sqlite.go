package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists documents in a single SQLite database, grounded on
// the teacher's internal/storage/sqlite.go upsert-via-ON-CONFLICT pattern.
// It suits deployments that want a transactional store without running a
// separate database process.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the database at path and
// ensures its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS scalars (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDevice(id string) (*DeviceDocument, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM devices WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query device %s: %w", id, err)
	}
	var doc DeviceDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("store: decode device %s: %w", id, err)
	}
	return &doc, nil
}

func (s *SQLiteStore) PutDevice(doc *DeviceDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode device %s: %w", doc.Device.DeviceID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO devices (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, doc.Device.DeviceID, string(data))
	if err != nil {
		return fmt.Errorf("store: upsert device %s: %w", doc.Device.DeviceID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteDevice(id string) error {
	res, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete device %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListDevices() ([]*DeviceDocument, error) {
	rows, err := s.db.Query(`SELECT data FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("store: list devices: %w", err)
	}
	defer rows.Close()

	var docs []*DeviceDocument
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var doc DeviceDocument
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

func (s *SQLiteStore) getScalar(name string, v interface{}) error {
	var data string
	err := s.db.QueryRow(`SELECT data FROM scalars WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: query %s: %w", name, err)
	}
	return json.Unmarshal([]byte(data), v)
}

func (s *SQLiteStore) putScalar(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO scalars (name, data) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data
	`, name, string(data))
	return err
}

func (s *SQLiteStore) GetServerConfig() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := s.getScalar("server_config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) PutServerConfig(cfg *ServerConfig) error {
	return s.putScalar("server_config", cfg)
}

func (s *SQLiteStore) GetLoggingConfig() (*LoggingConfig, error) {
	var cfg LoggingConfig
	if err := s.getScalar("logging_config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) PutLoggingConfig(cfg *LoggingConfig) error {
	return s.putScalar("logging_config", cfg)
}

func (s *SQLiteStore) GetOTAConfig() (*OTAConfig, error) {
	var cfg OTAConfig
	if err := s.getScalar("ota_config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) PutOTAConfig(cfg *OTAConfig) error {
	return s.putScalar("ota_config", cfg)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
