package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed StateStore for multi-node deployments.
//
// Schema:
//   - {prefix}{id}                JSON snapshot of one execution
//   - {prefix}ids                 set of all saga ids
//   - {prefix}by_status:{status}  set of saga ids per status
//
// Terminal snapshots optionally expire after a TTL so completed sagas clean
// themselves up.
type RedisStore struct {
	client       redis.Cmdable
	prefix       string
	idsKey       string
	statusPrefix string
	ttl          time.Duration
}

// NewRedisStore creates a Redis state store. The client may be a single
// node, Sentinel, or Cluster client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	s := &RedisStore{client: client}
	s.setPrefix("saga:")
	return s
}

// WithKeyPrefix sets a custom key prefix, e.g. for multi-tenant deployments.
func (s *RedisStore) WithKeyPrefix(prefix string) *RedisStore {
	s.setPrefix(prefix)
	return s
}

// WithTTL expires terminal snapshots after ttl. Zero keeps them forever.
func (s *RedisStore) WithTTL(ttl time.Duration) *RedisStore {
	s.ttl = ttl
	return s
}

func (s *RedisStore) setPrefix(prefix string) {
	s.prefix = prefix
	s.idsKey = prefix + "ids"
	s.statusPrefix = prefix + "by_status:"
}

// Put persists one snapshot and keeps the status index sets current.
func (s *RedisStore) Put(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return fmt.Errorf("saga execution cannot be nil")
	}
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal saga snapshot: %w", err)
	}

	key := s.dataKey(exec.ID)
	oldStatus := ""
	if raw, getErr := s.client.Get(ctx, key).Result(); getErr == nil {
		var previous Execution
		if json.Unmarshal([]byte(raw), &previous) == nil {
			oldStatus = previous.Status.String()
		}
	} else if getErr != redis.Nil {
		return getErr
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, s.idsKey, exec.ID)
	pipe.SAdd(ctx, s.statusKey(exec.Status.String()), exec.ID)
	if oldStatus != "" && oldStatus != exec.Status.String() {
		pipe.SRem(ctx, s.statusKey(oldStatus), exec.ID)
	}
	if s.ttl > 0 && exec.Status.IsTerminal() {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get loads one snapshot by saga id.
func (s *RedisStore) Get(ctx context.Context, sagaID string) (*Execution, error) {
	raw, err := s.client.Get(ctx, s.dataKey(sagaID)).Result()
	if err == redis.Nil {
		return nil, ErrSagaNotFound
	}
	if err != nil {
		return nil, err
	}
	var exec Execution
	if err := json.Unmarshal([]byte(raw), &exec); err != nil {
		return nil, fmt.Errorf("unmarshal saga snapshot: %w", err)
	}
	return exec.Clone(), nil
}

// List queries snapshots by status with pagination.
func (s *RedisStore) List(ctx context.Context, filter ListFilter) ([]*Execution, int, error) {
	indexKey := s.idsKey
	if filter.Status != "" {
		indexKey = s.statusKey(filter.Status)
	}
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, 0, err
	}
	// SMembers returns members in unspecified order; pagination needs a
	// stable one
	sort.Strings(ids)

	execs := make([]*Execution, 0, len(ids))
	for _, id := range ids {
		exec, getErr := s.Get(ctx, id)
		if getErr == ErrSagaNotFound {
			// snapshot expired, index entry is stale
			continue
		}
		if getErr != nil {
			return nil, 0, getErr
		}
		execs = append(execs, exec)
	}

	total := len(execs)
	offset, end := pageBounds(total, filter.Offset, filter.Limit)
	return execs[offset:end], total, nil
}

// Delete removes one snapshot and its index entries.
func (s *RedisStore) Delete(ctx context.Context, sagaID string) error {
	exec, err := s.Get(ctx, sagaID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(sagaID))
	pipe.SRem(ctx, s.idsKey, sagaID)
	pipe.SRem(ctx, s.statusKey(exec.Status.String()), sagaID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) dataKey(sagaID string) string {
	return s.prefix + sagaID
}

func (s *RedisStore) statusKey(status string) string {
	return s.statusPrefix + status
}
