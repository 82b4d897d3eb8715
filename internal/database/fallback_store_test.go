package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourbooking/booking-flow/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleBooking(bookingID, internalID string) *models.Booking {
	return &models.Booking{
		ID:           internalID,
		BookingID:    bookingID,
		CustomerInfo: models.CustomerInfo{Name: "Budi", Email: "budi@example.com", Phone: "081234567890", Address: "Jakarta"},
		PackageInfo:  models.PackageInfo{ID: "pkg-1", Price: 1500000},
		Schedule:     models.Schedule{StartDate: "2024-06-01", EndDate: "2024-06-03"},
		Participants: 2,
		TotalAmount:  3000000,
		Status:       models.BookingStatusPending,
		CreatedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// fakeRedis implements RedisKV over maps; the index orders members by call order
type fakeRedis struct {
	data   map[string][]byte
	index  map[string]int64
	clock  int64
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte), index: make(map[string]int64)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	default:
		return redis.NewStatusResult("", fmt.Errorf("unsupported value %T", value))
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	for _, m := range members {
		f.clock++
		f.index[fmt.Sprint(m.Member)] = f.clock
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	for _, m := range members {
		delete(f.index, fmt.Sprint(m))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	members := make([]string, 0, len(f.index))
	for m := range f.index {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return f.index[members[i]] > f.index[members[j]] })
	return redis.NewStringSliceResult(members, nil)
}

func bookingIDs(bookings []*models.Booking) []string {
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.BookingID)
	}
	return ids
}

func TestFallbackStore_FileStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "bookings.json")
	store := NewFallbackStore(NewFileSnapshotStorage(path), 2, testLogger())

	t.Run("Empty", func(t *testing.T) {
		bookings, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, bookings)

		booking, err := store.Find(ctx, "BK-001")
		require.NoError(t, err)
		assert.Nil(t, booking)
	})

	t.Run("Find by booking id or internal id", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sampleBooking("BK-001", "64f0c2")))

		byPublic, err := store.Find(ctx, "BK-001")
		require.NoError(t, err)
		require.NotNil(t, byPublic)
		assert.Equal(t, int64(3000000), byPublic.TotalAmount)

		byInternal, err := store.Find(ctx, "64f0c2")
		require.NoError(t, err)
		require.NotNil(t, byInternal)
		assert.Equal(t, "BK-001", byInternal.BookingID)

		other, err := store.Find(ctx, "BK-999")
		require.NoError(t, err)
		assert.Nil(t, other)
	})

	t.Run("Other bookings keep their snapshot", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sampleBooking("BK-002", "")))

		first, err := store.Find(ctx, "BK-001")
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := store.Find(ctx, "BK-002")
		require.NoError(t, err)
		require.NotNil(t, second)
	})

	t.Run("Save replaces the same booking", func(t *testing.T) {
		updated := sampleBooking("BK-002", "")
		updated.Status = models.BookingStatusConfirmed
		require.NoError(t, store.Save(ctx, updated))

		bookings, err := store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"BK-002", "BK-001"}, bookingIDs(bookings))
		assert.Equal(t, models.BookingStatusConfirmed, bookings[0].Status)
	})

	t.Run("Least recently used is evicted", func(t *testing.T) {
		// reading BK-001 makes BK-002 the oldest
		_, err := store.Find(ctx, "BK-001")
		require.NoError(t, err)

		require.NoError(t, store.Save(ctx, sampleBooking("BK-003", "")))

		evicted, err := store.Find(ctx, "BK-002")
		require.NoError(t, err)
		assert.Nil(t, evicted)

		bookings, err := store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"BK-003", "BK-001"}, bookingIDs(bookings))
	})

	t.Run("Remove", func(t *testing.T) {
		removed, err := store.Remove(ctx, "64f0c2")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = store.Remove(ctx, "BK-001")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("Clear", func(t *testing.T) {
		cleared, err := store.Clear(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, cleared)

		cleared, err = store.Clear(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, cleared)
	})

	t.Run("Invalid booking", func(t *testing.T) {
		assert.Error(t, store.Save(ctx, nil))
		assert.Error(t, store.Save(ctx, sampleBooking("", "")))
	})
}

func TestFallbackStore_RedisStorage(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store := NewFallbackStore(NewRedisSnapshotStorage(client), 2, testLogger())

	require.NoError(t, store.Save(ctx, sampleBooking("BK-001", "64f0c2")))
	require.NoError(t, store.Save(ctx, sampleBooking("BK-002", "")))
	assert.Contains(t, client.data, "tour_booking:BK-001")
	assert.Contains(t, client.data, "tour_booking:BK-002")

	found, err := store.Find(ctx, "64f0c2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "BK-001", found.BookingID)

	require.NoError(t, store.Save(ctx, sampleBooking("BK-003", "")))
	assert.NotContains(t, client.data, "tour_booking:BK-002")
	assert.NotContains(t, client.index, "tour_booking:BK-002")

	client.getErr = fmt.Errorf("connection refused")
	_, err = store.Find(ctx, "BK-001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load booking snapshot")

	client.getErr = nil
	cleared, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)
	assert.Empty(t, client.data)
	assert.Empty(t, client.index)
}

func TestFallbackStore_PostgresStorage(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	storage := NewPostgresSnapshotStorage(&PostgresDB{DB: sqlxDB})
	store := NewFallbackStore(storage, 2, testLogger())

	t.Run("Save", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO booking_snapshots`).
			WithArgs("tour_booking:BK-001", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT storage_key FROM booking_snapshots ORDER BY updated_at DESC`).
			WillReturnRows(sqlmock.NewRows([]string{"storage_key"}).AddRow("tour_booking:BK-001"))

		require.NoError(t, store.Save(ctx, sampleBooking("BK-001", "64f0c2")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Save evicts beyond capacity", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO booking_snapshots`).
			WithArgs("tour_booking:BK-003", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT storage_key FROM booking_snapshots ORDER BY updated_at DESC`).
			WillReturnRows(sqlmock.NewRows([]string{"storage_key"}).
				AddRow("tour_booking:BK-003").
				AddRow("tour_booking:BK-001").
				AddRow("tour_booking:BK-002"))
		mock.ExpectExec(`DELETE FROM booking_snapshots WHERE storage_key`).
			WithArgs("tour_booking:BK-002").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Save(ctx, sampleBooking("BK-003", "")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Find", func(t *testing.T) {
		payload, err := json.Marshal(sampleBooking("BK-001", "64f0c2"))
		require.NoError(t, err)

		mock.ExpectQuery(`SELECT payload FROM booking_snapshots WHERE storage_key`).
			WithArgs("tour_booking:BK-001").
			WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
		mock.ExpectExec(`UPDATE booking_snapshots SET updated_at`).
			WithArgs("tour_booking:BK-001", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		found, err := store.Find(ctx, "BK-001")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, 2, found.Participants)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT payload FROM booking_snapshots WHERE storage_key`).
			WithArgs("tour_booking:BK-404").
			WillReturnRows(sqlmock.NewRows([]string{"payload"}))
		mock.ExpectQuery(`SELECT storage_key FROM booking_snapshots ORDER BY updated_at DESC`).
			WillReturnRows(sqlmock.NewRows([]string{"storage_key"}))

		found, err := store.Find(ctx, "BK-404")
		require.NoError(t, err)
		assert.Nil(t, found)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO booking_snapshots`).
			WithArgs("tour_booking:BK-001", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnError(fmt.Errorf("database error"))

		err := store.Save(ctx, sampleBooking("BK-001", ""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to store booking snapshot")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Corrupt Payload", func(t *testing.T) {
		mock.ExpectQuery(`SELECT payload FROM booking_snapshots`).
			WithArgs("tour_booking:BK-001").
			WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{not json`)))

		_, err := store.Find(ctx, "BK-001")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode booking snapshot")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EnsureSchema", func(t *testing.T) {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS booking_snapshots`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_booking_snapshots_updated_at`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, storage.EnsureSchema(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
