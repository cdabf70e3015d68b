package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload is a stored copy of a retrieved statistical document.
type RawPayload struct {
	ID          int64
	FetchRunID  sql.NullInt64
	FetchedAt   time.Time
	Source      string
	URL         string
	PayloadHash string
}

// StoreRawPayload gzips and stores a document, deduplicated by content hash.
// Returns the id of the new or already stored payload.
func (s *Store) StoreRawPayload(runID *int64, source, url string, payload []byte) (int64, error) {
	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])

	if existing, err := s.GetRawPayloadByHash(hashHex); err != nil {
		return 0, err
	} else if existing != nil {
		return existing.ID, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	var fetchRunID sql.NullInt64
	if runID != nil {
		fetchRunID = sql.NullInt64{Int64: *runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads (fetch_run_id, fetched_at, source, url, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fetchRunID, time.Now().UTC(), source, url, buf.Bytes(), hashHex)
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}
	return result.LastInsertId()
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}
	return decompress(compressed)
}

// LatestRawPayload returns the most recently fetched document, or nil if none is stored.
func (s *Store) LatestRawPayload() (*RawPayload, []byte, error) {
	row := s.db.QueryRow(`
		SELECT id, fetch_run_id, fetched_at, source, url, payload_hash, payload_compressed
		FROM raw_payloads
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`)

	var p RawPayload
	var compressed []byte
	err := row.Scan(&p.ID, &p.FetchRunID, &p.FetchedAt, &p.Source, &p.URL, &p.PayloadHash, &compressed)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	data, err := decompress(compressed)
	if err != nil {
		return nil, nil, err
	}
	return &p, data, nil
}

// GetRawPayloadByHash looks up a payload by its content hash.
func (s *Store) GetRawPayloadByHash(hash string) (*RawPayload, error) {
	row := s.db.QueryRow(`
		SELECT id, fetch_run_id, fetched_at, source, url, payload_hash
		FROM raw_payloads WHERE payload_hash = ?
	`, hash)

	var p RawPayload
	err := row.Scan(&p.ID, &p.FetchRunID, &p.FetchedAt, &p.Source, &p.URL, &p.PayloadHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CleanupOldRawPayloads deletes payloads older than retentionDays. The most
// recent payload is always kept so features can be rebuilt offline.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`
		DELETE FROM raw_payloads
		WHERE fetched_at < ?
		  AND id NOT IN (SELECT id FROM raw_payloads ORDER BY fetched_at DESC, id DESC LIMIT 1)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func decompress(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
