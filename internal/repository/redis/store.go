package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"feedstream/internal/domain"
)

const defaultKeyPrefix = "feedstream:"

// Store keeps playback positions and feed places in Redis. Positions are JSON
// values indexed by a sorted set scored with their update time in millis.
// It implements ports.PositionStore and ports.FeedStateStore.
type Store struct {
	client redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = defaultKeyPrefix
	}
	return &Store{client: client, prefix: p}
}

func (s *Store) positionKey(key string) string {
	return s.prefix + "pos:" + key
}

func (s *Store) recentKey() string {
	return s.prefix + "pos:recent"
}

func (s *Store) placeKey() string {
	return s.prefix + "place"
}

func (s *Store) Upsert(ctx context.Context, pos domain.PlaybackPosition) error {
	if pos.Key == "" {
		return domain.ErrNotFound
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.positionKey(pos.Key), data, 0)
		pipe.ZAdd(ctx, s.recentKey(), redis.Z{Score: float64(pos.UpdatedAt.UnixMilli()), Member: pos.Key})
		return nil
	})
	return err
}

func (s *Store) Get(ctx context.Context, key string) (domain.PlaybackPosition, error) {
	data, err := s.client.Get(ctx, s.positionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PlaybackPosition{}, domain.ErrNotFound
		}
		return domain.PlaybackPosition{}, err
	}
	var pos domain.PlaybackPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return domain.PlaybackPosition{}, err
	}
	return pos, nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.PlaybackPosition, error) {
	if limit <= 0 {
		limit = 20
	}
	keys, err := s.client.ZRevRange(ctx, s.recentKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.positionKey(k))
	}
	values, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.PlaybackPosition, 0, len(values))
	for _, v := range values {
		encoded, ok := v.(string)
		if !ok || encoded == "" {
			continue
		}
		var pos domain.PlaybackPosition
		if err := json.Unmarshal([]byte(encoded), &pos); err != nil {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.positionKey(key))
		pipe.ZRem(ctx, s.recentKey(), key)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.recentKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	full := make([]string, 0, len(keys))
	members := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.positionKey(k))
		members = append(members, k)
	}
	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, full...)
		pipe.ZRem(ctx, s.recentKey(), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return del.Val(), nil
}

func (s *Store) GetLastPostID(ctx context.Context, feedType domain.FeedType) (domain.PostID, bool, error) {
	id, err := s.client.HGet(ctx, s.placeKey(), placeField(feedType)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false, nil
	}
	return domain.PostID(id), true, nil
}

func (s *Store) SetLastPostID(ctx context.Context, feedType domain.FeedType, id domain.PostID) error {
	return s.client.HSet(ctx, s.placeKey(), placeField(feedType), strings.TrimSpace(string(id))).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func placeField(feedType domain.FeedType) string {
	if feedType == "" {
		return string(domain.FeedAll)
	}
	return string(feedType)
}
