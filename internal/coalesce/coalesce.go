// Package coalesce provides a keyed, TTL-bounded cache for expensive
// operations that guarantees at most one in-flight producer per key.
//
// Callers that request a key while its producer is still running attach to
// the pending result instead of starting a second producer. A completed
// result, successful or not, is reused until its TTL elapses. Failures are
// therefore replayed to later callers until the entry expires, unless the
// cache is built WithPurgeOnFailure.
//
// Entries are never evicted: the key space is expected to be small and
// finite (one per device node and tool subcommand).
package coalesce

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Producer computes a value for a cache entry. The context it receives is
// detached from the cancellation of whichever caller happened to start it.
type Producer[T any] func(ctx context.Context) (T, error)

// Cache coalesces concurrent and rapid-succession calls per key.
// The zero value is not usable; construct with New.
type Cache[T any] struct {
	name           string
	ttl            time.Duration
	clock          clock.PassiveClock
	purgeOnFailure bool

	mu      sync.Mutex
	entries map[string]*entry[T]
}

type entry[T any] struct {
	done    chan struct{}
	started time.Time
	val     T
	err     error
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	name           string
	clock          clock.PassiveClock
	purgeOnFailure bool
}

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces the clock used to timestamp entries.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) { o.clock = c }
}

// WithPurgeOnFailure drops an entry as soon as its producer fails, so the
// next call retries immediately instead of replaying the failure until the
// TTL elapses.
func WithPurgeOnFailure(purge bool) Option {
	return func(o *options) { o.purgeOnFailure = purge }
}

// New returns a Cache whose entries are valid for ttl. A ttl <= 0 means
// entries never expire.
func New[T any](ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{name: "default", clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		name:           o.name,
		ttl:            ttl,
		clock:          o.clock,
		purgeOnFailure: o.purgeOnFailure,
		entries:        make(map[string]*entry[T]),
	}
}

// Do returns the value for key, invoking fn only if there is no entry or the
// entry is older than the TTL and has completed. The new entry is registered before fn runs so
// concurrent callers attach to it. If ctx is done before the value is ready,
// Do returns ctx.Err() while the producer keeps running for other callers.
func (c *Cache[T]) Do(ctx context.Context, key string, fn Producer[T]) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	switch {
	case !ok || c.expired(e):
		e = &entry[T]{done: make(chan struct{}), started: c.clock.Now()}
		c.entries[key] = e
		c.mu.Unlock()

		cacheCalls.WithLabelValues(c.name, "miss").Inc()
		slog.Debug("cache refresh", "cache", c.name, "key", key)
		go c.run(context.WithoutCancel(ctx), key, e, fn)
	default:
		c.mu.Unlock()
		select {
		case <-e.done:
			cacheCalls.WithLabelValues(c.name, "hit").Inc()
		default:
			cacheCalls.WithLabelValues(c.name, "attach").Inc()
			slog.Debug("cache attach", "cache", c.name, "key", key)
		}
	}

	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// run executes fn and publishes its outcome to every attached caller.
func (c *Cache[T]) run(ctx context.Context, key string, e *entry[T], fn Producer[T]) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			e.err = fmt.Errorf("coalesce %s: producer panic: %v", c.name, r)
			c.purge(key, e)
		}
	}()

	e.val, e.err = fn(ctx)
	if e.err != nil {
		c.purge(key, e)
	}
}

// purge removes e when purge-on-failure is enabled and e is still current.
func (c *Cache[T]) purge(key string, e *entry[T]) {
	if !c.purgeOnFailure {
		return
	}
	c.mu.Lock()
	if c.entries[key] == e {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// expired reports whether e is past the TTL. An entry whose producer is
// still running never expires, so at most one producer per key is in flight.
// The caller must hold c.mu.
func (c *Cache[T]) expired(e *entry[T]) bool {
	if c.ttl <= 0 || c.clock.Since(e.started) <= c.ttl {
		return false
	}
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Invalidate drops the entry for key. Callers already attached to it still
// receive its result.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, including expired ones.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the configured freshness window.
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Key builds a cache key from call arguments. Arguments compare by their
// canonical textual form, not their static type: Key(1) == Key("1"). Each
// part is length-prefixed so Key("a b") != Key("a", "b").
func Key(args ...any) string {
	var b strings.Builder
	for _, a := range args {
		s := fmt.Sprint(a)
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
		b.WriteByte(';')
	}
	return b.String()
}
