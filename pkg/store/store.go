// Copyright 2024-2026 Aiku AI

// Package store persists the bidirectional mapping between platform-native
// message identifiers. Every successfully relayed message produces exactly one
// immutable row linking its id on platform A to its counterpart on platform B,
// so a reply on either side can be turned into a reply on the other. The table
// is append-only for the lifetime of the bridge.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/telemost/pkg/store/upgrades"
)

var (
	// ErrConflict is returned by Put when the (a, b) message id pair has
	// already been recorded.
	ErrConflict = errors.New("correlation pair already recorded")
	// ErrStore wraps all other persistence failures.
	ErrStore = errors.New("correlation store error")
)

// Record links one relayed message across both platforms. Records are
// immutable once written and are never deleted.
type Record struct {
	AMessageID string
	ASenderID  string
	AChatID    string
	BMessageID string
	BSenderID  string
	BThreadID  string
}

const (
	insertRecordQuery = `
		INSERT INTO message_link (a_message_id, a_sender_id, a_chat_id, b_message_id, b_sender_id, b_thread_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	getByAIDQuery = `
		SELECT a_message_id, a_sender_id, a_chat_id, b_message_id, b_sender_id, b_thread_id
		FROM message_link WHERE a_message_id=$1
	`
	getByBIDQuery = `
		SELECT a_message_id, a_sender_id, a_chat_id, b_message_id, b_sender_id, b_thread_id
		FROM message_link WHERE b_message_id=$1
	`
)

// CorrelationStore is the durable message id mapping, backed by SQLite or
// Postgres through dbutil.
type CorrelationStore struct {
	db *dbutil.Database
}

// New wraps an opened database. Call Upgrade before first use.
func New(db *dbutil.Database) *CorrelationStore {
	db.UpgradeTable = upgrades.Table
	return &CorrelationStore{db: db}
}

// Upgrade applies pending schema migrations.
func (s *CorrelationStore) Upgrade(ctx context.Context) error {
	if err := s.db.Upgrade(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// Put durably appends one record. The database's unique index on the id pair
// serializes racing appenders: exactly one wins, the rest get ErrConflict.
func (s *CorrelationStore) Put(ctx context.Context, rec *Record) error {
	_, err := s.db.Exec(ctx, insertRecordQuery,
		rec.AMessageID, rec.ASenderID, rec.AChatID,
		rec.BMessageID, rec.BSenderID, rec.BThreadID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: a=%s b=%s", ErrConflict, rec.AMessageID, rec.BMessageID)
		}
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// GetByAID looks up the record whose platform A message id equals id.
// Returns (nil, nil) when there is no mapping.
func (s *CorrelationStore) GetByAID(ctx context.Context, id string) (*Record, error) {
	return scanRecord(s.db.QueryRow(ctx, getByAIDQuery, id))
}

// GetByBID looks up the record whose platform B message id equals id.
// Returns (nil, nil) when there is no mapping.
func (s *CorrelationStore) GetByBID(ctx context.Context, id string) (*Record, error) {
	return scanRecord(s.db.QueryRow(ctx, getByBIDQuery, id))
}

func scanRecord(row dbutil.Scannable) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.AMessageID, &rec.ASenderID, &rec.AChatID,
		&rec.BMessageID, &rec.BSenderID, &rec.BThreadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return &rec, nil
}

// isUniqueViolation matches unique constraint errors from both SQLite
// ("UNIQUE constraint failed") and Postgres ("duplicate key value violates
// unique constraint") without tying the store to one driver.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
