// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package documents

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{})
	require.NoError(t, err)

	return New(gdb), mock
}

func TestStore_FetchDocuments_ReturnsNamesAndText(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "knowledge_base_id", "name", "text"}).
		AddRow(1, "kb-1", "policy.txt", "full refund within 30 days").
		AddRow(2, "kb-1", "faq.txt", "support hours are 9-5")
	mock.ExpectQuery(`SELECT \* FROM "knowledge_documents" WHERE knowledge_base_id IN \(\$1\)`).
		WithArgs("kb-1").
		WillReturnRows(rows)

	docs, err := store.FetchDocuments(context.Background(), []string{"kb-1"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "policy.txt", docs[0].Name)
	assert.Equal(t, "full refund within 30 days", docs[0].Text)
	assert.Equal(t, 0, docs[0].Tokens)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FetchDocuments_EmptyResultForUnknownKB(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "knowledge_documents" WHERE knowledge_base_id IN \(\$1\)`).
		WithArgs("kb-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "knowledge_base_id", "name", "text"}))

	docs, err := store.FetchDocuments(context.Background(), []string{"kb-missing"})
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.NoError(t, mock.ExpectationsWereMet())
}
