package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/postloom/internal/models"
	"github.com/google/uuid"
)

// ErrResourceLocked is returned when a resource is already locked by another holder.
var ErrResourceLocked = errors.New("resource is locked")

// --- Lock Operations ---

// AcquireLock attempts to acquire a lock on a resource atomically.
// Expired locks for the resource are cleared first. If a live lock exists,
// it returns ErrResourceLocked.
func (s *Store) AcquireLock(ctx context.Context, resourceID, holderID, lockType string, ttl time.Duration) (*models.Lock, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Step 1: Clean up expired locks for this resource within the transaction
	_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM locks WHERE resource_id = ? AND expires_at <= ?`), resourceID, now)
	if err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	// Step 2: Check for existing non-expired lock
	var existingHolder string
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT holder_id FROM locks WHERE resource_id = ? AND expires_at > ?`),
		resourceID, now,
	).Scan(&existingHolder)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing lock: %w", err)
	}
	if err != sql.ErrNoRows {
		return nil, ErrResourceLocked
	}

	// Step 3: Insert new lock
	lock := &models.Lock{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		HolderID:   holderID,
		LockType:   lockType,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO locks (id, resource_id, holder_id, lock_type, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`),
		lock.ID, lock.ResourceID, lock.HolderID, lock.LockType, lock.CreatedAt, lock.ExpiresAt,
	)
	if err != nil {
		// A concurrent insert won the race
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint") {
			return nil, ErrResourceLocked
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return lock, nil
}

// GetLock retrieves a lock by resource ID if it exists and is not expired.
func (s *Store) GetLock(ctx context.Context, resourceID string) (*models.Lock, error) {
	lock := &models.Lock{}
	err := s.queryRow(ctx,
		`SELECT id, resource_id, holder_id, lock_type, created_at, expires_at
		 FROM locks WHERE resource_id = ? AND expires_at > ?`,
		resourceID, time.Now().UTC(),
	).Scan(&lock.ID, &lock.ResourceID, &lock.HolderID, &lock.LockType, &lock.CreatedAt, &lock.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	return lock, nil
}

// ReleaseLock removes the lock on a resource regardless of holder.
func (s *Store) ReleaseLock(ctx context.Context, resourceID string) error {
	if _, err := s.exec(ctx, `DELETE FROM locks WHERE resource_id = ?`, resourceID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// RenewLock extends a live or expired lock that holderID still owns. It
// reports false when the row is gone or belongs to another holder.
func (s *Store) RenewLock(ctx context.Context, resourceID, holderID string, ttl time.Duration) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE locks SET expires_at = ? WHERE resource_id = ? AND holder_id = ?`,
		time.Now().UTC().Add(ttl), resourceID, holderID,
	)
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return n > 0, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(ctx context.Context, action, inputsHash, outcome, campaignID, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		CampaignID: campaignID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.exec(ctx,
		`INSERT INTO pdr (id, action, inputs_hash, outcome, campaign_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, nullString(pdr.CampaignID), pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the decision records for a campaign, oldest first.
func (s *Store) ListPDR(ctx context.Context, campaignID string) ([]models.PDREntry, error) {
	rows, err := s.query(ctx,
		`SELECT id, action, inputs_hash, outcome, campaign_id, details, timestamp
		 FROM pdr WHERE campaign_id = ? ORDER BY timestamp ASC`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var cid, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &cid, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.CampaignID = cid.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
