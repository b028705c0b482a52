package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var busRowColumns = []string{
	"id", "owner_id", "bus_number", "bus_type", "status", "seat_map", "seat_map_version",
	"rejection_reason", "approved_at", "created_at", "updated_at",
}

func TestCreateBus_DuplicateNumber(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBusRepository(db)

	mock.ExpectExec(`INSERT INTO buses`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateBus(context.Background(), &models.Bus{
		ID:        uuid.New(),
		BusNumber: "NB-1234",
		BusType:   models.BusTypeAC,
		Status:    models.BusStatusDraft,
		SeatMap:   models.GenerateSeatMap(10, 4),
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBusRepository(db)
	id := uuid.New()
	owner := uuid.New()
	now := time.Now()

	t.Run("Seat map decoded from JSONB", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM buses WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(busRowColumns).AddRow(
				id.String(), owner.String(), "NB-1234", "ac", "approved",
				[]byte(`[{"seat_number":"1A","row":1,"column":1,"type":"vip","price_multiplier":1.5,"active":true}]`),
				3, nil, now, now, now,
			))

		bus, err := repo.GetBus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.BusStatusApproved, bus.Status)
		assert.Equal(t, owner, bus.OwnerID)
		assert.Equal(t, 3, bus.SeatMapVersion)
		require.Len(t, bus.SeatMap, 1)
		assert.Equal(t, models.SeatTypeVIP, bus.SeatMap[0].Type)
		assert.Equal(t, 1.5, bus.SeatMap[0].PriceMultiplier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM buses WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows(busRowColumns))

		_, err := repo.GetBus(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateBus_StatusGuard(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBusRepository(db)
	bus := &models.Bus{ID: uuid.New(), Status: models.BusStatusApproved, SeatMapVersion: 1}

	mock.ExpectExec(`UPDATE buses SET`).
		WithArgs(
			models.BusStatusApproved, sqlmock.AnyArg(), 1, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), bus.ID, models.BusStatusPendingApproval,
		).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateBus(context.Background(), bus, models.BusStatusPendingApproval)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
