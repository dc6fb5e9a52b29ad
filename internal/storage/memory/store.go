package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"feedstream/internal/domain"
)

// Store keeps playback positions and feed places in process memory. It
// implements ports.PositionStore and ports.FeedStateStore and is the default
// when no database is configured. Positions are bounded; the least recently
// written one goes first.
type Store struct {
	mu         sync.RWMutex
	positions  map[string]*list.Element
	lru        *list.List
	maxEntries int
	lastPost   map[domain.FeedType]domain.PostID
}

type StoreOption func(*Store)

func WithMaxEntries(max int) StoreOption {
	return func(s *Store) {
		if max > 0 {
			s.maxEntries = max
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		positions:  make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: 10000,
		lastPost:   make(map[domain.FeedType]domain.PostID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Upsert(_ context.Context, pos domain.PlaybackPosition) error {
	if pos.Key == "" {
		return domain.ErrNotFound
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.positions[pos.Key]; ok {
		elem.Value = pos
		s.lru.MoveToFront(elem)
		return nil
	}
	s.positions[pos.Key] = s.lru.PushFront(pos)
	for s.lru.Len() > s.maxEntries {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.positions, oldest.Value.(domain.PlaybackPosition).Key)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (domain.PlaybackPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	elem, ok := s.positions[key]
	if !ok {
		return domain.PlaybackPosition{}, domain.ErrNotFound
	}
	return elem.Value.(domain.PlaybackPosition), nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]domain.PlaybackPosition, error) {
	s.mu.RLock()
	out := make([]domain.PlaybackPosition, 0, s.lru.Len())
	for elem := s.lru.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(domain.PlaybackPosition))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.positions[key]
	if !ok {
		return domain.ErrNotFound
	}
	s.lru.Remove(elem)
	delete(s.positions, key)
	return nil
}

func (s *Store) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, elem := range s.positions {
		if elem.Value.(domain.PlaybackPosition).UpdatedAt.Before(cutoff) {
			s.lru.Remove(elem)
			delete(s.positions, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) GetLastPostID(_ context.Context, feedType domain.FeedType) (domain.PostID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.lastPost[feedType]
	return id, ok, nil
}

func (s *Store) SetLastPostID(_ context.Context, feedType domain.FeedType, id domain.PostID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		delete(s.lastPost, feedType)
		return nil
	}
	s.lastPost[feedType] = id
	return nil
}
