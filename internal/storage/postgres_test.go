package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/models"
)

func newMockStorage(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStorageFromDB(db, zap.NewNop()), mock
}

func TestPostgresGetCreatorContext(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(`SELECT id, page_name, page_type, fan_count`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "page_name", "page_type", "fan_count", "timezone", "content_multiplier", "persona_tone", "persona_keywords"}).
			AddRow("c-1", "Luna", "paid", 500, "America/New_York", 1.0, "playful", "{gym,beach}"))

	c, err := s.GetCreatorContext(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, models.PagePaid, c.PageType)
	assert.Equal(t, 500, c.FanCount)
	assert.Equal(t, []string{"gym", "beach"}, c.Persona.Keywords)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetCreatorContextNotFound(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(`SELECT id, page_name`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := s.GetCreatorContext(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresSnapshotsDecodeRankings(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(`SELECT DISTINCT ON \(horizon\)`).
		WithArgs("c-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"horizon", "saturation", "opportunity", "revenue_trend", "message_count", "content_rankings"}).
			AddRow("7d", 55.0, 62.0, "up", 44, []byte(`[{"content_type":"bg","earnings":120.5}]`)).
			AddRow("30d", 40.0, 70.0, "flat", 300, []byte(`[]`)))

	snaps, err := s.GetPerformanceSnapshots(context.Background(), "c-1", models.Horizons)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, models.Horizon7d, snaps[0].Horizon)
	require.Len(t, snaps[0].ContentRankings, 1)
	assert.Equal(t, "bg", snaps[0].ContentRankings[0].ContentType)
}

func TestPostgresTimingHistoryMissingIsEmpty(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(`SELECT peak_hours, day_multipliers`).WithArgs("c-1").WillReturnError(sql.ErrNoRows)

	h, err := s.GetTimingHistory(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Empty(t, h.PeakHours)
}

func TestPostgresPersistInsertsNewWeek(t *testing.T) {
	s, mock := newMockStorage(t)
	report := models.ValidationReport{Status: models.StatusApproved, Score: 96}
	items := []models.ScheduledItem{{ID: "i-1", SendType: "ppv_unlock"}, {ID: "i-2", SendType: "bump_normal"}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO schedules .* ON CONFLICT \(creator_id, week_start\) DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), "c-1", "2026-10-19", "approved", 96.0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO scheduled_items`).WithArgs(sqlmock.AnyArg(), 0, "i-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO scheduled_items`).WithArgs(sqlmock.AnyArg(), 1, "i-2", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := s.Persist(context.Background(), "c-1", week, items, report, PersistOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPersistRejectsApprovedWeek(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO schedules`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, status FROM schedules`).
		WithArgs("c-1", "2026-10-19").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("6f1c5a0e-8d7b-4c4e-9a51-3b1f2d6e7a90", "approved"))
	mock.ExpectRollback()

	_, err := s.Persist(context.Background(), "c-1", week, nil, models.ValidationReport{Status: models.StatusApproved}, PersistOptions{})
	assert.ErrorIs(t, err, ErrAlreadyApproved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPersistOverwriteReplacesItems(t *testing.T) {
	s, mock := newMockStorage(t)
	existing := "6f1c5a0e-8d7b-4c4e-9a51-3b1f2d6e7a90"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO schedules`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, status FROM schedules`).
		WithArgs("c-1", "2026-10-19").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(existing, "approved"))
	mock.ExpectExec(`UPDATE schedules SET status`).
		WithArgs("needs_review", 70.0, sqlmock.AnyArg(), sqlmock.AnyArg(), existing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM scheduled_items`).WithArgs(existing).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	id, err := s.Persist(context.Background(), "c-1", week, nil,
		models.ValidationReport{Status: models.StatusNeedsReview, Score: 70}, PersistOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, existing, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A writer that finds the week created by a concurrent run updates that row
// instead of failing on the unique key.
func TestPostgresPersistJoinsConcurrentlyCreatedWeek(t *testing.T) {
	s, mock := newMockStorage(t)
	winner := "0b8e7c52-1f3a-4d6b-8c9e-2a4f6d8b0c1e"
	items := []models.ScheduledItem{{ID: "i-1", SendType: "ppv_unlock"}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO schedules`).
		WithArgs(sqlmock.AnyArg(), "c-1", "2026-10-19", "needs_review", 71.0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, status FROM schedules`).
		WithArgs("c-1", "2026-10-19").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(winner, "needs_review"))
	mock.ExpectExec(`UPDATE schedules SET status`).
		WithArgs("needs_review", 71.0, sqlmock.AnyArg(), sqlmock.AnyArg(), winner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM scheduled_items`).WithArgs(winner).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO scheduled_items`).WithArgs(winner, 0, "i-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := s.Persist(context.Background(), "c-1", week, items,
		models.ValidationReport{Status: models.StatusNeedsReview, Score: 71}, PersistOptions{})
	require.NoError(t, err)
	assert.Equal(t, winner, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
