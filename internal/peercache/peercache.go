// Package peercache keeps a TTL-bounded record of last-seen discovery peers
// and persists it across restarts, per spec §6 "Persisted state" as
// expanded in SPEC_FULL.md §4.10. Grounded on the teacher's
// patrickmn/go-cache dependency for the in-memory TTL store and
// clarketm/json (deterministic, map-key-sorted encoding) for the on-disk
// snapshot, both declared in the teacher's go.mod.
package peercache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cjson "github.com/clarketm/json"
	"github.com/patrickmn/go-cache"

	"github.com/bscheduler/bscheduler/pkg/netaddr"
)

// entry is one persisted sighting: the peer endpoint and when it was last
// confirmed reachable, stored purely for operator visibility in the dump.
type entry struct {
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

// Cache records peer sightings with a TTL and can flush/reload a snapshot.
type Cache struct {
	ttl  time.Duration
	c    *cache.Cache
	path string
}

// New returns a Cache with the given entry TTL (conventionally 3x the
// discovery probe interval, per SPEC_FULL.md §4.10) backed by the file at
// path. path may be empty, in which case Flush/Load are no-ops.
func New(ttl time.Duration, path string) *Cache {
	return &Cache{
		ttl:  ttl,
		c:    cache.New(ttl, ttl/2),
		path: path,
	}
}

// DefaultPath returns the conventional peer-cache location for a daemon
// bound to bindEndpoint, under the OS temp directory.
func DefaultPath(bindEndpoint string) string {
	safe := strings.NewReplacer(":", "_", "/", "_").Replace(bindEndpoint)
	return filepath.Join(os.TempDir(), fmt.Sprintf("bscheduler-peers-%s.json", safe))
}

// Seen records addr as reachable as of now.
func (pc *Cache) Seen(addr netaddr.Address) {
	key := addr.String()
	pc.c.Set(key, entry{Address: key, LastSeen: timeNow()}, cache.DefaultExpiration)
}

// Forget drops addr from the cache immediately. The hierarchy does not call
// it; the daemon only records sightings through Seen.
func (pc *Cache) Forget(addr netaddr.Address) {
	pc.c.Delete(addr.String())
}

// Entries returns every currently non-expired peer address, in no
// particular order, for seeding the discovery scan order ahead of the
// address-interval walk.
func (pc *Cache) Entries() []string {
	items := pc.c.Items()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if e, ok := item.Object.(entry); ok {
			out = append(out, e.Address)
		}
	}
	return out
}

// Flush writes the current entry set to disk. A Cache with an empty path is
// a no-op, so construction for a daemon with no configured peer-cache path
// never needs a nil check at the call site.
func (pc *Cache) Flush() error {
	if pc.path == "" {
		return nil
	}
	items := pc.c.Items()
	entries := make([]entry, 0, len(items))
	for _, item := range items {
		if e, ok := item.Object.(entry); ok {
			entries = append(entries, e)
		}
	}
	data, err := cjson.Marshal(entries)
	if err != nil {
		return fmt.Errorf("peercache: marshal: %w", err)
	}
	if err := os.WriteFile(pc.path, data, 0o644); err != nil {
		return fmt.Errorf("peercache: writing %s: %w", pc.path, err)
	}
	return nil
}

// Load reads back a previously flushed snapshot. A missing file is not an
// error, per spec §6: the cache is simply left empty.
func (pc *Cache) Load() error {
	if pc.path == "" {
		return nil
	}
	data, err := os.ReadFile(pc.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("peercache: reading %s: %w", pc.path, err)
	}
	var entries []entry
	if err := cjson.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("peercache: unmarshal %s: %w", pc.path, err)
	}
	for _, e := range entries {
		pc.c.Set(e.Address, e, pc.ttl)
	}
	return nil
}

var timeNow = time.Now
