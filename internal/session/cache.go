// Package session holds the process-local view of live chat sessions.
//
// The Cache is the only in-memory mutator of session state. It is bounded by
// an LRU with TTL; sessions with a turn in flight are pinned outside the LRU
// so eviction can only drop state that the turn already persisted. A miss is
// hydrated from durable storage on first access.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/signdesk/internal/domain"
	"github.com/ashureev/signdesk/internal/store"
	"github.com/containerd/errdefs"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSize = 10000
	defaultTTL  = 24 * time.Hour
)

// Loader reads a durable session. store.Coordinator satisfies it.
type Loader interface {
	GetSession(ctx context.Context, key string) (*domain.Session, store.Envelope)
}

// Options configures a Cache.
type Options struct {
	Size   int
	TTL    time.Duration
	Logger *slog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

type entry struct {
	turn sync.Mutex
	refs int
	sess *domain.Session
}

// Cache maps session keys to live session state.
type Cache struct {
	mu     sync.Mutex
	idle   *expirable.LRU[string, *entry]
	pinned map[string]*entry

	loader Loader
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Cache that hydrates misses through loader. A nil loader
// starts every unseen session empty.
func New(loader Loader, opts Options) *Cache {
	size := opts.Size
	if size <= 0 {
		size = defaultSize
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Cache{
		idle:   expirable.NewLRU[string, *entry](size, nil, ttl),
		pinned: make(map[string]*entry),
		loader: loader,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// lookup returns the entry for key. Caller holds c.mu.
func (c *Cache) lookup(key string) (*entry, bool) {
	if e, ok := c.pinned[key]; ok {
		return e, true
	}
	return c.idle.Get(key)
}

// Lock serializes turns for key and pins its entry until the returned
// function is called.
func (c *Cache) Lock(key string) func() {
	c.mu.Lock()
	e, ok := c.pinned[key]
	if !ok {
		if idle, found := c.idle.Get(key); found {
			e = idle
			c.idle.Remove(key)
		} else {
			e = &entry{}
		}
		c.pinned[key] = e
	}
	e.refs++
	c.mu.Unlock()

	e.turn.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.turn.Unlock()

			c.mu.Lock()
			defer c.mu.Unlock()
			e.refs--
			if e.refs > 0 {
				return
			}
			delete(c.pinned, key)
			if e.sess != nil {
				c.idle.Add(key, e)
			}
		})
	}
}

// GetOrCreate returns a snapshot of the session for key, hydrating it from
// durable storage on a miss. A non-empty email is recorded only when the
// session has none yet.
func (c *Cache) GetOrCreate(ctx context.Context, key, email string) *domain.Session {
	c.mu.Lock()
	if e, ok := c.lookup(key); ok && e.sess != nil {
		setEmail(e.sess, email)
		snap := e.sess.Clone()
		c.mu.Unlock()
		return snap
	}
	c.mu.Unlock()

	_, _, _ = c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if e, ok := c.lookup(key); ok && e.sess != nil {
			c.mu.Unlock()
			return nil, nil
		}
		c.mu.Unlock()

		loaded := c.load(ctx, key)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.install(key, loaded)
		return nil, nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok || e.sess == nil {
		// Evicted between hydration and now.
		e = c.install(key, domain.NewSession(key, "", c.now().UTC()))
	}
	setEmail(e.sess, email)
	return e.sess.Clone()
}

func (c *Cache) load(ctx context.Context, key string) *domain.Session {
	if c.loader != nil {
		sess, env := c.loader.GetSession(ctx, key)
		switch {
		case env.Err != nil:
			c.logger.Warn("Session hydration failed, starting empty",
				"session_id", key,
				"error", env.Err)
		case sess != nil:
			sess.Key = key
			c.logger.Debug("Session hydrated",
				"session_id", key,
				"tier", env.Tier,
				"message_count", sess.MessageCount())
			return sess
		}
	}
	return domain.NewSession(key, "", c.now().UTC())
}

// install stores sess for key unless another caller already did. Caller holds c.mu.
func (c *Cache) install(key string, sess *domain.Session) *entry {
	if e, ok := c.pinned[key]; ok {
		if e.sess == nil {
			e.sess = sess
		}
		return e
	}
	if e, ok := c.idle.Get(key); ok && e.sess != nil {
		return e
	}
	e := &entry{sess: sess}
	c.idle.Add(key, e)
	return e
}

func setEmail(sess *domain.Session, email string) {
	if email != "" && sess.Email == "" {
		sess.Email = email
	}
}

// update runs fn on the live session for key. Caller must not hold c.mu.
func (c *Cache) update(key string, fn func(*domain.Session)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok || e.sess == nil {
		return fmt.Errorf("session %q: %w", key, errdefs.ErrNotFound)
	}
	fn(e.sess)
	return nil
}

// AppendMessage appends one message to the session transcript.
func (c *Cache) AppendMessage(key, role, content string) error {
	return c.update(key, func(s *domain.Session) {
		s.Append(role, content, c.now().UTC())
	})
}

// SetContactID links the session to a CRM contact. It reports false when the
// session was already linked, leaving the existing id in place.
func (c *Cache) SetContactID(key, contactID string) (bool, error) {
	set := false
	err := c.update(key, func(s *domain.Session) {
		if s.ContactID == "" && contactID != "" {
			s.ContactID = contactID
			set = true
		}
	})
	return set, err
}

// SetLastSync records the time of the last successful CRM transcript push.
func (c *Cache) SetLastSync(key string, ts time.Time) error {
	return c.update(key, func(s *domain.Session) {
		t := ts.UTC()
		s.LastSyncAt = &t
	})
}

// Seed installs sess for key unless the key is already in memory, and
// returns a snapshot of whichever session the cache now holds.
func (c *Cache) Seed(key string, sess *domain.Session) *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	seeded := sess.Clone()
	seeded.Key = key
	if seeded.Messages == nil {
		seeded.Messages = []domain.Message{}
	}
	return c.install(key, seeded).sess.Clone()
}

// Snapshot returns a deep copy of the cached session, or false when the
// session is not in memory. It never hydrates.
func (c *Cache) Snapshot(key string) (*domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok || e.sess == nil {
		return nil, false
	}
	return e.sess.Clone(), true
}

// Len returns the number of sessions held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.idle.Len()
	for _, e := range c.pinned {
		if e.sess != nil {
			n++
		}
	}
	return n
}
