// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callstore

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/logging"
)

func testLogger() logging.Logger {
	l, err := logging.New(logging.Options{Level: "error"})
	if err != nil {
		panic(err)
	}
	return l
}

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{})
	require.NoError(t, err)

	return New(gdb, testLogger()), mock
}

func TestStore_Save_GeneratesCallIDAndPendingStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "call_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	rec := &CallRecord{Direction: "inbound", AudioFormat: "g711_ulaw"}
	callID, err := store.Save(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, callID)
	assert.Equal(t, StatusPending, rec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_ReturnsRecordByCallID(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "call_id", "status", "direction"}).
		AddRow(1, "call-1", StatusClaimed, "inbound")
	mock.ExpectQuery(`SELECT \* FROM "call_records" WHERE call_id = \$1`).
		WithArgs("call-1").
		WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", rec.CallID)
	assert.Equal(t, StatusClaimed, rec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Claim_FailsWhenNoRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "call_records" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, err := store.Claim(context.Background(), "call-2")
	assert.Error(t, err)
}

func TestStore_UpdateField_RejectsNonAllowlistedColumn(t *testing.T) {
	store, _ := newMockStore(t)

	err := store.UpdateField(context.Background(), "call-3", "auth_token", "secret")
	assert.Error(t, err)
}

func TestStore_UpdateTermination_WritesCauseAndLogKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "call_records" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpdateTermination(context.Background(), "call-4", calldata.CauseEndOfCallBot, "logs/call-4.zip")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertCallEvent_Succeeds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "call_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := store.InsertCallEvent(context.Background(), "call-5", 12.5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RecordTextMessage_Succeeds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "text_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := store.RecordTextMessage(context.Background(), "call-6", "+15559999", "+15551234", "hi", "SM123")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
