// Package decision persists the viewer's accept/decline choices for incoming
// requests. A recorded decision outlives the process and overrides whatever
// classification a later server fetch would imply, so a handled request never
// flickers back into the requests list.
package decision

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/spf13/afero"
)

type Decision string

const (
	Accepted Decision = "accepted"
	Declined Decision = "declined"
)

// Cache is a serialized conversation-id -> decision map on disk. Entries are
// keyed by conversation id and never expire; a genuinely new thread between
// the same users gets a new id and therefore a fresh slate.
type Cache struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	entries map[string]Decision
}

// Open loads the cache file at path, treating a missing file as empty.
func Open(fs afero.Fs, path string) (*Cache, error) {
	c := &Cache{fs: fs, path: path, entries: make(map[string]Decision)}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &c.entries); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cache) Get(conversationID string) (Decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[conversationID]
	return d, ok
}

// Record persists the decision before exposing it. If the write fails the
// in-memory view is left untouched so a failed user action never half-applies.
func (c *Cache) Record(conversationID string, d Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]Decision, len(c.entries)+1)
	for k, v := range c.entries {
		next[k] = v
	}
	next[conversationID] = d

	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, b, 0o600); err != nil {
		return err
	}
	if err := c.fs.Rename(tmp, c.path); err != nil {
		return err
	}
	c.entries = next
	return nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
