package services

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const dispatchDueKey = "dispatch:due"

// RedisScheduler keeps the key→due-time map in a Redis sorted set polled by
// a single active scheduler. Deployments running more than one instance use
// this so the one-dispatch-per-debounce-window contract survives scale-out:
// pending windows are durable, and a successor picks them up after a restart
// instead of losing them with the process.
type RedisScheduler struct {
	rdb    *redis.Client
	onFire func(key string)
	stop   chan struct{}
	done   chan struct{}
}

// NewRedisScheduler builds the scheduler and starts its poll loop
func NewRedisScheduler(rdb *redis.Client, onFire func(key string)) *RedisScheduler {
	s := &RedisScheduler{
		rdb:    rdb,
		onFire: onFire,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.poll()
	return s
}

// Schedule sets the key's due time, replacing any earlier one. ZADD on an
// existing member updates the score, which is exactly the single-slot
// re-arm semantics the dispatcher needs.
func (s *RedisScheduler) Schedule(key string, delay time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	due := time.Now().Add(delay).UnixMilli()
	if err := s.rdb.ZAdd(ctx, dispatchDueKey, &redis.Z{
		Score:  float64(due),
		Member: key,
	}).Err(); err != nil {
		slog.Error("Failed to schedule dispatch", "key", key, "error", err)
	}
}

// Cancel removes the key's due time without firing
func (s *RedisScheduler) Cancel(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.rdb.ZRem(ctx, dispatchDueKey, key).Err(); err != nil {
		slog.Error("Failed to cancel scheduled dispatch", "key", key, "error", err)
	}
}

// Shutdown stops the poll loop. Due times stay in Redis so the next active
// scheduler resumes the pending windows.
func (s *RedisScheduler) Shutdown() {
	close(s.stop)
	<-s.done
}

func (s *RedisScheduler) poll() {
	defer close(s.done)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.fireDue()
		}
	}
}

// fireDue pops every key whose due time has passed. The ZREM result guards
// against another poller claiming the same key first.
func (s *RedisScheduler) fireDue() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	keys, err := s.rdb.ZRangeByScore(ctx, dispatchDueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		slog.Error("Failed to read due dispatches", "error", err)
		return
	}

	for _, key := range keys {
		removed, err := s.rdb.ZRem(ctx, dispatchDueKey, key).Result()
		if err != nil {
			slog.Error("Failed to claim due dispatch", "key", key, "error", err)
			continue
		}
		if removed == 0 {
			continue
		}
		s.onFire(key)
	}
}
