package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotKeyPrefix namespaces booking snapshot keys
const SnapshotKeyPrefix = "tour_booking:"

// SnapshotIndexKey is the redis sorted set ordering snapshot keys by last use
const SnapshotIndexKey = "tour_booking:index"

// ErrSnapshotNotFound is returned when no snapshot is stored under a key
var ErrSnapshotNotFound = errors.New("booking snapshot not found")

// SnapshotKey returns the storage key of a booking snapshot
func SnapshotKey(bookingID string) string {
	return SnapshotKeyPrefix + bookingID
}

// SnapshotStorage persists opaque snapshot payloads by key and remembers
// which keys were used most recently
type SnapshotStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, payload []byte) error
	Touch(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys, most recently used first
	Keys(ctx context.Context) ([]string, error)
}

// ============================================================================
// POSTGRES
// ============================================================================

// PostgresSnapshotStorage keeps snapshots in the booking_snapshots table
type PostgresSnapshotStorage struct {
	db DB
}

// NewPostgresSnapshotStorage creates a postgres-backed snapshot storage
func NewPostgresSnapshotStorage(db DB) *PostgresSnapshotStorage {
	return &PostgresSnapshotStorage{db: db}
}

// EnsureSchema creates the snapshot table if needed
func (s *PostgresSnapshotStorage) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS booking_snapshots (
			storage_key TEXT PRIMARY KEY,
			payload     JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_snapshots_updated_at ON booking_snapshots (updated_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to prepare booking_snapshots table: %w", err)
		}
	}
	return nil
}

// Load returns the payload stored under key
func (s *PostgresSnapshotStorage) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	query := `SELECT payload FROM booking_snapshots WHERE storage_key = $1`

	err := s.db.GetContext(ctx, &payload, query, key)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking snapshot: %w", err)
	}
	return payload, nil
}

// Store overwrites the payload under key
func (s *PostgresSnapshotStorage) Store(ctx context.Context, key string, payload []byte) error {
	query := `
		INSERT INTO booking_snapshots (storage_key, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (storage_key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`

	// JSON passed as string for pgx simple protocol compatibility
	if _, err := s.db.ExecContext(ctx, query, key, string(payload), time.Now()); err != nil {
		return fmt.Errorf("failed to store booking snapshot: %w", err)
	}
	return nil
}

// Touch marks key as just used
func (s *PostgresSnapshotStorage) Touch(ctx context.Context, key string) error {
	query := `UPDATE booking_snapshots SET updated_at = $2 WHERE storage_key = $1`
	if _, err := s.db.ExecContext(ctx, query, key, time.Now()); err != nil {
		return fmt.Errorf("failed to touch booking snapshot: %w", err)
	}
	return nil
}

// Delete removes the payload under key
func (s *PostgresSnapshotStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM booking_snapshots WHERE storage_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete booking snapshot: %w", err)
	}
	return nil
}

// Keys lists stored keys, most recently used first
func (s *PostgresSnapshotStorage) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	query := `SELECT storage_key FROM booking_snapshots ORDER BY updated_at DESC, storage_key`

	if err := s.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("failed to list booking snapshots: %w", err)
	}
	return keys, nil
}

// ============================================================================
// REDIS
// ============================================================================

// RedisKV is the subset of the go-redis client the snapshot storage needs
type RedisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisSnapshotStorage keeps each snapshot under its own key without TTL and
// orders them in a sorted set scored by last use
type RedisSnapshotStorage struct {
	client RedisKV
}

// NewRedisSnapshotStorage creates a redis-backed snapshot storage
func NewRedisSnapshotStorage(client RedisKV) *RedisSnapshotStorage {
	return &RedisSnapshotStorage{client: client}
}

// Load returns the payload stored under key
func (s *RedisSnapshotStorage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load booking snapshot: %w", err)
	}
	return data, nil
}

// Store overwrites the payload under key
func (s *RedisSnapshotStorage) Store(ctx context.Context, key string, payload []byte) error {
	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store booking snapshot: %w", err)
	}
	return s.Touch(ctx, key)
}

// Touch marks key as just used
func (s *RedisSnapshotStorage) Touch(ctx context.Context, key string) error {
	score := float64(time.Now().UnixNano())
	if err := s.client.ZAdd(ctx, SnapshotIndexKey, redis.Z{Score: score, Member: key}).Err(); err != nil {
		return fmt.Errorf("failed to index booking snapshot: %w", err)
	}
	return nil
}

// Delete removes the payload under key
func (s *RedisSnapshotStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete booking snapshot: %w", err)
	}
	if err := s.client.ZRem(ctx, SnapshotIndexKey, key).Err(); err != nil {
		return fmt.Errorf("failed to unindex booking snapshot: %w", err)
	}
	return nil
}

// Keys lists stored keys, most recently used first
func (s *RedisSnapshotStorage) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.ZRevRange(ctx, SnapshotIndexKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list booking snapshots: %w", err)
	}
	return keys, nil
}

// ============================================================================
// FILE
// ============================================================================

// fileSnapshot is one entry of the snapshot file
type fileSnapshot struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// FileSnapshotStorage keeps all snapshots in one local JSON file, most recently used first
type FileSnapshotStorage struct {
	path string
	mu   sync.Mutex
}

// NewFileSnapshotStorage creates a file-backed snapshot storage
func NewFileSnapshotStorage(path string) *FileSnapshotStorage {
	return &FileSnapshotStorage{path: path}
}

// read returns the file entries; caller holds mu
func (s *FileSnapshotStorage) read() ([]fileSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read booking snapshots: %w", err)
	}

	var entries []fileSnapshot
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode booking snapshots file: %w", err)
	}
	return entries, nil
}

// write replaces the file via write-then-rename; caller holds mu
func (s *FileSnapshotStorage) write(entries []fileSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode booking snapshots: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write booking snapshots: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace booking snapshots: %w", err)
	}
	return nil
}

func indexOf(entries []fileSnapshot, key string) int {
	for i, e := range entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// Load returns the payload stored under key
func (s *FileSnapshotStorage) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	i := indexOf(entries, key)
	if i < 0 {
		return nil, ErrSnapshotNotFound
	}
	return entries[i].Payload, nil
}

// Store overwrites the payload under key and moves it to the front
func (s *FileSnapshotStorage) Store(ctx context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	if i := indexOf(entries, key); i >= 0 {
		entries = append(entries[:i], entries[i+1:]...)
	}
	entries = append([]fileSnapshot{{Key: key, Payload: payload}}, entries...)
	return s.write(entries)
}

// Touch moves key to the front
func (s *FileSnapshotStorage) Touch(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	i := indexOf(entries, key)
	if i <= 0 {
		return nil
	}
	entry := entries[i]
	entries = append(entries[:i], entries[i+1:]...)
	entries = append([]fileSnapshot{entry}, entries...)
	return s.write(entries)
}

// Delete removes the payload under key
func (s *FileSnapshotStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	i := indexOf(entries, key)
	if i < 0 {
		return nil
	}
	entries = append(entries[:i], entries[i+1:]...)
	if len(entries) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove booking snapshots file: %w", err)
		}
		return nil
	}
	return s.write(entries)
}

// Keys lists stored keys, most recently used first
func (s *FileSnapshotStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}
