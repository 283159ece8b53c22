package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/logger"
)

// Store loads and saves queue snapshots.
type Store interface {
	Load(ctx context.Context) (*QueueSnapshot, error)
	Save(ctx context.Context, snap *QueueSnapshot) error
}

// KV is the subset of the Redis command set the store needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps the queue snapshot as one JSON value under a key.
type RedisStore struct {
	kv  KV
	key string
}

// NewRedisStore creates a store writing to key.
func NewRedisStore(kv KV, key string) *RedisStore {
	return &RedisStore{kv: kv, key: key}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Load returns the stored snapshot, or nil when none exists.
func (s *RedisStore) Load(ctx context.Context) (*QueueSnapshot, error) {
	data, err := s.kv.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap QueueSnapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// Save overwrites the stored snapshot.
func (s *RedisStore) Save(ctx context.Context, snap *QueueSnapshot) error {
	data, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotWriter saves snapshots in the background. Only the newest pending
// snapshot is written, so Persist never blocks the caller holding fresh state.
type SnapshotWriter struct {
	store   Store
	timeout time.Duration

	latest atomic.Pointer[QueueSnapshot]
	saved  atomic.Uint64
	notify chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSnapshotWriter creates a writer for store. Each save is bounded by timeout.
func NewSnapshotWriter(store Store, timeout time.Duration) *SnapshotWriter {
	return &SnapshotWriter{
		store:   store,
		timeout: timeout,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Persist queues snap for writing. Older snapshots than the pending one are dropped.
func (w *SnapshotWriter) Persist(snap *QueueSnapshot) {
	for {
		cur := w.latest.Load()
		if cur != nil && cur.Version >= snap.Version {
			return
		}
		if w.latest.CompareAndSwap(cur, snap) {
			break
		}
	}

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Start runs the write loop until Stop is called.
func (w *SnapshotWriter) Start() {
	go w.run()
}

// Stop flushes the newest snapshot and waits for the loop to exit.
func (w *SnapshotWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *SnapshotWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.notify:
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

func (w *SnapshotWriter) flush() {
	snap := w.latest.Load()
	if snap == nil || snap.Version <= w.saved.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.store.Save(ctx, snap); err != nil {
		logger.Error("Failed to persist task queue",
			zap.Uint64("version", snap.Version),
			zap.Error(err),
		)
		return
	}
	w.saved.Store(snap.Version)
}

// SavedVersion returns the version of the last snapshot written successfully.
func (w *SnapshotWriter) SavedVersion() uint64 {
	return w.saved.Load()
}
