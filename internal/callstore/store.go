// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/logging"
)

// Store is the Postgres persistence boundary for the call record lifecycle.
// A *gormStore implements listener.CallRecordStore (UpdateTermination,
// InsertCallEvent) as a structural subset of this wider interface.
type Store interface {
	// Save stores a new call record, generating a call id if none is set.
	Save(ctx context.Context, rec *CallRecord) (string, error)

	// Get retrieves a call record by call id regardless of status — late
	// provider callbacks must be able to resolve a call after it completes.
	Get(ctx context.Context, callID string) (*CallRecord, error)

	// Claim atomically transitions a record from pending/queued to claimed.
	// Only one concurrent media connection can win.
	Claim(ctx context.Context, callID string) (*CallRecord, error)

	// UpdateField sets a single allowlisted column.
	UpdateField(ctx context.Context, callID, field, value string) error

	// UpdateTermination writes the final outcome of a call (§4.5.2 step 6).
	UpdateTermination(ctx context.Context, callID string, cause calldata.TerminationCause, logKey string) error

	// InsertCallEvent records a terminated call's duration.
	InsertCallEvent(ctx context.Context, callID string, durationSeconds float64) error

	// RecordTextMessage persists one send_text_message tool call's side
	// effect, satisfying tools.TextMessageRecorder structurally.
	RecordTextMessage(ctx context.Context, callID, fromNumber, toNumber, body, sid string) error
}

var updatableFields = map[string]bool{
	"channel_uuid":  true,
	"status":        true,
	"caller_number": true,
	"callee_number": true,
}

type gormStore struct {
	db     *gorm.DB
	logger logging.Logger
}

// New constructs a Store backed by the given *gorm.DB connection.
func New(db *gorm.DB, logger logging.Logger) Store {
	return &gormStore{db: db, logger: logger}
}

func (s *gormStore) Save(ctx context.Context, rec *CallRecord) (string, error) {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", fmt.Errorf("failed to save call record %s: %w", rec.CallID, err)
	}
	s.logger.Infof("callstore: saved call record call_id=%s direction=%s", rec.CallID, rec.Direction)
	return rec.CallID, nil
}

func (s *gormStore) Get(ctx context.Context, callID string) (*CallRecord, error) {
	var rec CallRecord
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("call record not found: %s: %w", callID, err)
	}
	return &rec, nil
}

func (s *gormStore) Claim(ctx context.Context, callID string) (*CallRecord, error) {
	db := s.db.WithContext(ctx)
	result := db.Model(&CallRecord{}).
		Where("call_id = ? AND status IN ?", callID, []string{StatusPending, StatusQueued}).
		Updates(map[string]interface{}{
			"status":     StatusClaimed,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim call record %s: %w", callID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("call record %s not found or already claimed", callID)
	}

	var rec CallRecord
	if err := db.Where("call_id = ?", callID).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch claimed call record %s: %w", callID, err)
	}
	s.logger.Debugf("callstore: claimed call record call_id=%s", callID)
	return &rec, nil
}

func (s *gormStore) UpdateField(ctx context.Context, callID, field, value string) error {
	if !updatableFields[field] {
		return fmt.Errorf("field %q is not updatable on call record", field)
	}
	result := s.db.WithContext(ctx).Model(&CallRecord{}).
		Where("call_id = ?", callID).
		Update(field, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update field %s on call record %s: %w", field, callID, result.Error)
	}
	return nil
}

func (s *gormStore) UpdateTermination(ctx context.Context, callID string, cause calldata.TerminationCause, logKey string) error {
	result := s.db.WithContext(ctx).Model(&CallRecord{}).
		Where("call_id = ?", callID).
		Updates(map[string]interface{}{
			"status":            StatusCompleted,
			"termination_cause": string(cause),
			"log_key":           logKey,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to write termination for call record %s: %w", callID, result.Error)
	}
	return nil
}

func (s *gormStore) InsertCallEvent(ctx context.Context, callID string, durationSeconds float64) error {
	event := &CallEvent{CallID: callID, DurationSeconds: durationSeconds}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to insert call event for %s: %w", callID, err)
	}
	return nil
}

func (s *gormStore) RecordTextMessage(ctx context.Context, callID, fromNumber, toNumber, body, sid string) error {
	msg := &TextMessage{CallID: callID, FromNumber: fromNumber, ToNumber: toNumber, Body: body, Sid: sid}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to record text message for %s: %w", callID, err)
	}
	return nil
}
