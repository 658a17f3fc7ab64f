// Package redis stores runs in Redis: one hash per run under
// reqprof:run:{namespace}:{id} and a sorted set per namespace ordering the ids
// by creation time.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fllarpy/reqprof/domain"
)

const keyPrefix = "reqprof:"

var _ domain.RunStore = (*Store)(nil)

// Store keeps runs in Redis.
type Store struct {
	client *redis.Client
	now    func() time.Time
	// TTL expires runs when positive.
	TTL time.Duration
}

// NewStore connects to the Redis server at url, e.g. redis://localhost:6379/0.
func NewStore(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return NewStoreWithClient(client), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func runKey(namespace, id string) string {
	return keyPrefix + "run:" + namespace + ":" + id
}

func indexKey(namespace string) string {
	return keyPrefix + "runs:" + namespace
}

// SaveRun writes the run hash and indexes it in one transaction.
func (s *Store) SaveRun(ctx context.Context, data *domain.CallGraph, namespace string) (string, error) {
	m, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode run metadata: %w", err)
	}

	id := domain.NewRunID()
	created := s.now()
	fields := map[string]any{
		"created_at": strconv.FormatInt(created.UnixNano(), 10),
		"wall_ns":    strconv.FormatInt(int64(data.Wall()), 10),
		"cpu":        data.CPU,
		"heap":       data.Heap,
		"has_heap":   strconv.FormatBool(len(data.Heap) > 0),
		"meta":       string(m),
	}

	key := runKey(namespace, id)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.ZAdd(ctx, indexKey(namespace), redis.Z{Score: float64(created.UnixNano()), Member: id})
		if s.TTL > 0 {
			pipe.Expire(ctx, key, s.TTL)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store run: %w", err)
	}
	return id, nil
}

// GetRun loads a run.
func (s *Store) GetRun(ctx context.Context, id, namespace string) (*domain.CallGraph, error) {
	h, err := s.client.HGetAll(ctx, runKey(namespace, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if len(h) == 0 {
		return nil, domain.ErrRunNotFound
	}

	var g domain.CallGraph
	if err := json.Unmarshal([]byte(h["meta"]), &g); err != nil {
		return nil, fmt.Errorf("failed to decode run metadata: %w", err)
	}
	g.CPU = []byte(h["cpu"])
	if h["heap"] != "" {
		g.Heap = []byte(h["heap"])
	}
	return &g, nil
}

// ListRuns returns the newest runs of namespace first. A non-positive limit
// lists all. Index entries whose hash has expired are skipped.
func (s *Store) ListRuns(ctx context.Context, namespace string, limit int) ([]domain.RunInfo, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, indexKey(namespace), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, runKey(namespace, id), "created_at", "wall_ns", "has_heap")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	runs := make([]domain.RunInfo, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 3 || vals[0] == nil {
			continue
		}
		createdAt, _ := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
		wall, _ := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
		hasHeap, _ := strconv.ParseBool(fmt.Sprint(vals[2]))
		runs = append(runs, domain.RunInfo{
			ID:        ids[i],
			Namespace: namespace,
			CreatedAt: time.Unix(0, createdAt),
			Wall:      time.Duration(wall),
			HasHeap:   hasHeap,
		})
	}
	return runs, nil
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }
