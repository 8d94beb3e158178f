package localstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardportal/resolution"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestUpdateSignatory_NotSignable(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM resolutions").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("finalized"))
	mock.ExpectRollback()

	err := s.UpdateSignatory(context.Background(), "r-1", "A", time.Now(), "hash")
	assert.ErrorIs(t, err, resolution.ErrResolutionNotSignable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSignatory_DiskError(t *testing.T) {
	s, mock := newMock(t)
	diskErr := errors.New("disk I/O error")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM resolutions").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("awaiting_signatures"))
	mock.ExpectExec("UPDATE signatories SET signed_at").WillReturnError(diskErr)
	mock.ExpectRollback()

	err := s.UpdateSignatory(context.Background(), "r-1", "A", time.Now(), "hash")
	assert.ErrorIs(t, err, diskErr)
	assert.NotErrorIs(t, err, resolution.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSignatory_Commits(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM resolutions").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("awaiting_signatures"))
	mock.ExpectExec("UPDATE signatories SET signed_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE resolutions SET updated_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.UpdateSignatory(context.Background(), "r-1", "A", time.Now(), "hash"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_Conflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("UPDATE resolutions SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WithArgs("r-1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := s.TransitionStatus(context.Background(), "r-1", resolution.StatusAwaitingSignatures, resolution.StatusExpired)
	assert.ErrorIs(t, err, resolution.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_QueryError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT id, created_at").WillReturnError(errors.New("database is locked"))

	_, err := s.List(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_CorruptTimestamp(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT id, created_at").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at", "meeting_date", "agreement_details", "status", "deadline_at", "barcode_data"}).
			AddRow("r-1", "yesterday", "yesterday", "yesterday", "x", "awaiting_signatures", "yesterday", "r-1"))

	_, err := s.Get(context.Background(), "r-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, resolution.ErrNotFound)
}
