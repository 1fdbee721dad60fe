package database

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBookingRepoTest(t *testing.T) (*BookingRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewBookingRepository(sqlxDB, logger), mock, func() { db.Close() }
}

func TestBookingCreate(t *testing.T) {
	repo, mock, cleanup := newBookingRepoTest(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO bookings").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(42), now, now))

	booking := &models.Booking{
		PayerID:     uuid.New(),
		CounselorID: uuid.New(),
		Modality:    models.ModalityOnline,
		Status:      models.BookingStatusAwaitingPayment,
		ScheduledAt: now.Add(48 * time.Hour),
		ExpiresAt:   now.Add(15 * time.Minute),
	}

	err := repo.Create(context.Background(), booking)
	require.NoError(t, err)
	assert.Equal(t, int64(42), booking.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingGetByID_NotFound(t *testing.T) {
	repo, mock, cleanup := newBookingRepoTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT \\* FROM bookings").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	booking, err := repo.GetByID(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, booking)
}

func TestGetForSettlement_PriceByModality(t *testing.T) {
	repo, mock, cleanup := newBookingRepoTest(t)
	defer cleanup()

	columns := []string{
		"id", "payer_id", "counselor_id", "modality", "status",
		"online_rate", "offline_rate",
	}
	mock.ExpectQuery("FROM bookings b").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(42), uuid.New(), uuid.New(), "offline", "awaiting_payment",
			int64(500000), int64(700000),
		))

	booking, err := repo.GetForSettlement(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, booking)
	assert.Equal(t, int64(700000), booking.Price(), "offline booking charges the offline rate")
}

func TestBookingCancel_AwaitingPayment(t *testing.T) {
	repo, mock, cleanup := newBookingRepoTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE bookings").
		WithArgs(
			string(models.BookingStatusCancelled),
			models.CancelReasonUserRequested,
			int64(42),
			string(models.BookingStatusAwaitingPayment),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cancelled, err := repo.Cancel(context.Background(), 42, models.CancelReasonUserRequested)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingCancel_AlreadySettled(t *testing.T) {
	repo, mock, cleanup := newBookingRepoTest(t)
	defer cleanup()

	// A paid or already-cancelled booking matches no row and stays untouched
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 0))

	cancelled, err := repo.Cancel(context.Background(), 42, models.CancelReasonUserRequested)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelExpired(t *testing.T) {
	repo, mock, cleanup := newBookingRepoTest(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(
			string(models.BookingStatusCancelled),
			models.CancelReasonPaymentExpired,
			string(models.BookingStatusAwaitingPayment),
			now,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)).AddRow(int64(9)))

	ids, err := repo.CancelExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelExpired_NothingToReap(t *testing.T) {
	repo, mock, cleanup := newBookingRepoTest(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE bookings").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := repo.CancelExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
