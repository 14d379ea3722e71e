package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

type StoreConfig struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	HistoryLimit    int
}

// Store keeps sessions in memory and drops them after IdleTTL without
// activity. Sessions do not survive a restart.
type Store struct {
	cache        *cache.Cache
	ttl          time.Duration
	historyLimit int
	now          func() time.Time
}

func NewStore(cfg StoreConfig) *Store {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &Store{
		cache:        cache.New(ttl, cleanup),
		ttl:          ttl,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
	}
}

// OnEvicted registers fn to run when a session expires or is deleted.
func (s *Store) OnEvicted(fn func(*Session)) {
	s.cache.OnEvicted(func(_ string, value interface{}) {
		if sess, ok := value.(*Session); ok {
			fn(sess)
		}
	})
}

func (s *Store) Create(owner string) *Session {
	sess := newSession(uuid.NewString(), owner, s.historyLimit, s.now().UTC())
	s.cache.Set(sess.ID, sess, s.ttl)
	return sess
}

// Get returns the session if it exists and belongs to owner, and extends
// its idle deadline. Sessions of other owners are reported as not found.
func (s *Store) Get(id, owner string) (*Session, error) {
	value, ok := s.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	sess, ok := value.(*Session)
	if !ok || sess.Owner != owner {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.cache.Set(id, sess, s.ttl)
	return sess, nil
}

func (s *Store) Delete(id, owner string) error {
	if _, err := s.Get(id, owner); err != nil {
		return err
	}
	s.cache.Delete(id)
	return nil
}

// List returns the owner's sessions, oldest first.
func (s *Store) List(owner string) []*Session {
	var out []*Session
	for _, item := range s.cache.Items() {
		if sess, ok := item.Object.(*Session); ok && sess.Owner == owner {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Count() int {
	return s.cache.ItemCount()
}
