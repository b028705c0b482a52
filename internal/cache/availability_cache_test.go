package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTrip = models.TripID("7f1c2d1e-8a43-4a5e-9c1f-0d6c1b2a3e4f_2026-03-02")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testCount() models.AvailabilityCount {
	return models.AvailabilityCount{
		TripID:     testTrip,
		Version:    4,
		TotalSeats: 40,
		FreeSeats:  31,
		AsOf:       time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
	}
}

func TestGetCount_Hit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(db, time.Minute, testLogger())

	data, err := json.Marshal(testCount())
	require.NoError(t, err)
	mock.ExpectGet("availability:" + testTrip.String()).SetVal(string(data))

	got, err := c.GetCount(context.Background(), testTrip)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testCount(), *got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCount_Miss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(db, time.Minute, testLogger())

	mock.ExpectGet(Key(testTrip)).RedisNil()

	got, err := c.GetCount(context.Background(), testTrip)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCount_CorruptEntryIsMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(db, time.Minute, testLogger())

	mock.ExpectGet(Key(testTrip)).SetVal("{not json")

	got, err := c.GetCount(context.Background(), testTrip)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetCount_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(db, time.Minute, testLogger())

	mock.ExpectGet(Key(testTrip)).SetErr(errors.New("connection refused"))

	_, err := c.GetCount(context.Background(), testTrip)
	assert.Error(t, err)
}

func TestSetCount_UsesTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(db, 45*time.Second, testLogger())

	data, err := json.Marshal(testCount())
	require.NoError(t, err)
	mock.ExpectSet(Key(testTrip), string(data), 45*time.Second).SetVal("OK")

	require.NoError(t, c.SetCount(context.Background(), testCount()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleLedgerEvent_Invalidates(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(db, 0, testLogger())
	assert.Equal(t, defaultTTL, c.ttl)

	mock.ExpectDel(Key(testTrip)).SetVal(1)
	c.HandleLedgerEvent(models.LedgerEvent{Type: models.EventHoldPlaced, TripID: testTrip, Seats: []string{"1A"}})
	assert.NoError(t, mock.ExpectationsWereMet())

	// Failures are logged, never surfaced to the ledger
	mock.ExpectDel(Key(testTrip)).SetErr(errors.New("timeout"))
	c.HandleLedgerEvent(models.LedgerEvent{Type: models.EventHoldExpired, TripID: testTrip})
	assert.NoError(t, mock.ExpectationsWereMet())
}
