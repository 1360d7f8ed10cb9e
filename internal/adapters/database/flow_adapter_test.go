package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/internal/infrastructure/clients/postgres"
)

func setupMockDB(t *testing.T) (*FlowAdapter, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	adapter := NewFlowAdapter(postgres.NewClientFromDB(mockDB), nil).(*FlowAdapter)
	return adapter, mock
}

func flowRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "integration_id", "type", "references", "step", "oppose_step",
		"minimum_age", "maximum_age", "period_of_day", "patient_sex", "cpfs",
		"execute_from", "execute_until", "run_between_start", "run_between_end",
		"trigger", "actions", "inactive", "deleted_at", "position",
		"created_at", "updated_at", "published_at",
	})
}

func TestListByIntegration_ScansRecords(t *testing.T) {
	adapter, mock := setupMockDB(t)
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	rows := flowRows().AddRow(
		"f1", "tenant-1", "omit",
		[]byte(`{"doctor":["D1","D2"]}`), []byte(`["doctor"]`), []byte(`["insurance"]`),
		18, nil, "morning", nil, []byte(`[]`),
		nil, nil, nil, nil,
		"init", []byte(`[{"type":"tag"}]`), false, nil, 0,
		now, now, nil,
	)
	mock.ExpectQuery(`SELECT .* FROM "flows_published" WHERE`).WillReturnRows(rows)

	flows, err := adapter.ListByIntegration(context.Background(), "tenant-1", entities.ChannelProduction)

	require.NoError(t, err)
	require.Len(t, flows, 1)
	f := flows[0]
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, entities.FlowTypeOmit, f.Type)
	assert.Equal(t, []string{"D1", "D2"}, f.ReferenceIDs(entities.KindDoctor))
	assert.Equal(t, []entities.EntityKind{entities.KindDoctor}, f.Step)
	assert.True(t, f.Opposes(entities.KindInsurance))
	require.NotNil(t, f.MinimumAge)
	assert.Equal(t, 18, *f.MinimumAge)
	assert.Nil(t, f.MaximumAge)
	assert.Equal(t, entities.PeriodMorning, f.PeriodOfDay)
	assert.Equal(t, "init", f.Trigger)
	require.Len(t, f.Actions, 1)
	assert.Equal(t, entities.FlowActionTag, f.Actions[0].Type)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByIntegration_HomologReadsDraftTable(t *testing.T) {
	adapter, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT .* FROM "flows_draft" WHERE`).WillReturnRows(flowRows())

	flows, err := adapter.ListByIntegration(context.Background(), "tenant-1", entities.ChannelHomolog)

	require.NoError(t, err)
	assert.Empty(t, flows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDraft_SingleStatement(t *testing.T) {
	adapter, mock := setupMockDB(t)
	mock.ExpectExec(`INSERT INTO "flows_draft" .* ON CONFLICT \("?id"?\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	now := time.Now()
	err := adapter.UpsertDraft(context.Background(), []*entities.Flow{
		{ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit, CreatedAt: now, UpdatedAt: now},
		{ID: "f2", IntegrationID: "tenant-1", Type: entities.FlowTypeAction, CreatedAt: now, UpdatedAt: now},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDraft_EmptyInputIsNoop(t *testing.T) {
	adapter, mock := setupMockDB(t)

	require.NoError(t, adapter.UpsertDraft(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_ReplacesGenerationTransactionally(t *testing.T) {
	adapter, mock := setupMockDB(t)
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	drafts := flowRows().AddRow(
		"f1", "tenant-1", "action",
		[]byte(`{}`), []byte(`[]`), []byte(`[]`),
		nil, nil, nil, nil, []byte(`[]`),
		nil, nil, nil, nil,
		"init", []byte(`[{"type":"text"}]`), false, nil, 0,
		now, now, nil,
	)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "flows_published" WHERE`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery(`SELECT .* FROM "flows_draft" WHERE`).WillReturnRows(drafts)
	mock.ExpectExec(`INSERT INTO "flows_published"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := adapter.Publish(context.Background(), "tenant-1", now)

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_NoDraftsSkipsInsert(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "flows_published" WHERE`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT .* FROM "flows_draft" WHERE`).WillReturnRows(flowRows())
	mock.ExpectCommit()

	count, err := adapter.Publish(context.Background(), "tenant-1", time.Now())

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_RollsBackOnError(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "flows_published" WHERE`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := adapter.Publish(context.Background(), "tenant-1", time.Now())

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPublished(t *testing.T) {
	adapter, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "flows_published"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := adapter.CountPublished(context.Background(), "tenant-1")

	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
