// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package documents is the concrete knowledge.DocumentSource this core
// deploys with: a flat, already-chunked document table keyed by knowledge
// base id. Producing that text (splitting, embedding, OCR, whatever a
// deployment's ingestion pipeline does upstream) is out of scope here — this
// package only reads what's already there.
package documents

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rapidaai/callcore/internal/knowledge"
)

// Row is one stored document, associated with a knowledge base id.
type Row struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	KnowledgeBaseID string `gorm:"column:knowledge_base_id;type:varchar(64);not null;index"`
	Name            string `gorm:"column:name;type:varchar(200);not null"`
	Text            string `gorm:"column:text;type:text;not null"`
}

func (Row) TableName() string { return "knowledge_documents" }

// Store implements knowledge.DocumentSource over Postgres.
type Store struct {
	db *gorm.DB
}

// New constructs a Store backed by the given *gorm.DB connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FetchDocuments satisfies knowledge.DocumentSource.
func (s *Store) FetchDocuments(ctx context.Context, kbIDs []string) ([]knowledge.Document, error) {
	var rows []Row
	if err := s.db.WithContext(ctx).Where("knowledge_base_id IN ?", kbIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("documents: fetching for kb_ids=%v: %w", kbIDs, err)
	}

	docs := make([]knowledge.Document, len(rows))
	for i, r := range rows {
		docs[i] = knowledge.Document{Name: r.Name, Text: r.Text}
	}
	return docs, nil
}
