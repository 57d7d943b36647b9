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

// ArchiveFeed stores a gzip-compressed copy of a fetched feed document. It
// returns 0 when an identical document is already archived.
func (s *Store) ArchiveFeed(runID int64, source, endpoint string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)

	var feedRunID sql.NullInt64
	if runID > 0 {
		feedRunID = sql.NullInt64{Int64: runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads
		(feed_run_id, fetched_at, source, endpoint, payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
	`, feedRunID, time.Now().UTC(), source, endpoint, buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// GetArchivedFeed returns the decompressed document stored under id.
func (s *Store) GetArchivedFeed(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// PruneArchivedFeeds deletes archived documents fetched before the cutoff and
// returns how many were removed.
func (s *Store) PruneArchivedFeeds(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM raw_payloads WHERE fetched_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
