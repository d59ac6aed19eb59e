// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callstore persists call records across the claim-then-terminate
// lifecycle a call's HTTP setup and media connection cross: a webhook or
// gRPC call creates a pending row, the transport that picks up the media
// connection claims it, and the termination routine (C5) writes the final
// outcome. The row is never deleted during a call's lifetime — late
// provider callbacks must still be able to resolve it.
package callstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Call record lifecycle statuses.
const (
	StatusPending   = "pending"   // inbound: created, waiting for media connection
	StatusQueued    = "queued"    // outbound: created, waiting for the provider to connect media
	StatusClaimed   = "claimed"   // media connection established, bridge running
	StatusCompleted = "completed" // termination routine ran
	StatusFailed    = "failed"
)

// CallRecord is the durable row backing one call across its full lifecycle.
type CallRecord struct {
	ID               uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	CallID           string    `json:"callId" gorm:"column:call_id;type:varchar(64);not null;uniqueIndex"`
	Status           string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending"`
	Direction        string    `json:"direction" gorm:"column:direction;type:varchar(20);not null;default:''"`
	AudioFormat      string    `json:"audioFormat" gorm:"column:audio_format;type:varchar(20);not null;default:''"`
	ChannelUUID      string    `json:"channelUuid" gorm:"column:channel_uuid;type:varchar(200);not null;default:''"`
	CallerNumber     string    `json:"callerNumber" gorm:"column:caller_number;type:varchar(50);not null;default:''"`
	CalleeNumber     string    `json:"calleeNumber" gorm:"column:callee_number;type:varchar(50);not null;default:''"`
	FromNumber       string    `json:"fromNumber" gorm:"column:from_number;type:varchar(50);not null;default:''"`
	TerminationCause string    `json:"terminationCause" gorm:"column:termination_cause;type:varchar(30);not null;default:''"`
	TransferTarget   string    `json:"transferTarget" gorm:"column:transfer_target;type:varchar(50);not null;default:''"`
	LogKey           string    `json:"logKey" gorm:"column:log_key;type:varchar(200);not null;default:''"`
	CreatedAt        time.Time `json:"createdAt" gorm:"column:created_at;type:timestamp;not null;default:now();<-:create"`
	UpdatedAt        time.Time `json:"updatedAt" gorm:"column:updated_at;type:timestamp"`
}

func (CallRecord) TableName() string { return "call_records" }

func (r *CallRecord) BeforeCreate(tx *gorm.DB) error {
	if r.CallID == "" {
		r.CallID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return nil
}

// CallEvent is one terminated-call row written for browser/inbound calls
// (§4.5.2 step 6's telephony-outbound carve-out), recording the final
// duration for downstream usage/billing consumers outside this core.
type CallEvent struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	CallID          string    `json:"callId" gorm:"column:call_id;type:varchar(64);not null;index"`
	DurationSeconds float64   `json:"durationSeconds" gorm:"column:duration_seconds"`
	CreatedAt       time.Time `json:"createdAt" gorm:"column:created_at;type:timestamp;not null;default:now();<-:create"`
}

func (CallEvent) TableName() string { return "call_events" }

// TextMessage is one send_text_message tool call's side effect (§4.4/§6.4):
// an SMS sid for telephony, or the "no-sid" sentinel for the browser
// transport's out-of-band "message" event.
type TextMessage struct {
	ID         uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	CallID     string    `json:"callId" gorm:"column:call_id;type:varchar(64);not null;index"`
	FromNumber string    `json:"fromNumber" gorm:"column:from_number;type:varchar(50);not null;default:''"`
	ToNumber   string    `json:"toNumber" gorm:"column:to_number;type:varchar(50);not null;default:''"`
	Body       string    `json:"body" gorm:"column:body;type:text;not null"`
	Sid        string    `json:"sid" gorm:"column:sid;type:varchar(64);not null"`
	CreatedAt  time.Time `json:"createdAt" gorm:"column:created_at;type:timestamp;not null;default:now();<-:create"`
}

func (TextMessage) TableName() string { return "text_messages" }
