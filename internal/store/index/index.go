// Package index keeps the in-memory map of active sessions and mirrors it to
// a JSON snapshot on every mutation. The index is the source of truth for
// which sessions exist; transcripts on disk without an index entry are not
// considered active.
package index

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/pwalczyk/chatkeeper/internal/model/chat"
)

// ErrNotFound reports that a (user, model, session) triple is not active.
var ErrNotFound = errors.New("session not found")

// snapshot is the on-disk shape: user -> model -> session -> [name, marker].
type snapshot map[string]map[string]map[string][]string

// Index maps user -> model -> session id -> entry, persisted as a single
// pretty-printed JSON file.
type Index struct {
	path string

	mu    sync.RWMutex
	users map[string]map[string]map[string]chat.Entry

	// flushMu serializes snapshot writes so disk latency never holds the
	// map lock. Each flush marshals current state, so the last write always
	// carries the newest snapshot.
	flushMu sync.Mutex
}

// Open loads the snapshot at path, starting from an empty index when the file
// is missing or unreadable. Corruption is deliberately swallowed: the service
// prefers coming up empty over refusing to start.
func Open(path string) *Index {
	ix := &Index{
		path:  path,
		users: make(map[string]map[string]map[string]chat.Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[index] unreadable snapshot %s, starting empty: %v", path, err)
		}
		return ix
	}

	var snap snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		log.Printf("[index] corrupt snapshot %s, starting empty: %v", path, err)
		return ix
	}

	for user, models := range snap {
		for model, sessions := range models {
			for id, fields := range sessions {
				entry := chat.Entry{}
				if len(fields) > 0 {
					entry.Name = fields[0]
				}
				if len(fields) > 1 {
					entry.LastActivity = fields[1]
				}
				ix.ensureLocked(user, model)
				ix.users[user][model][id] = entry
			}
		}
	}
	return ix
}

// Ensure idempotently creates the nested maps for a user/model pair.
func (ix *Index) Ensure(user, model string) {
	ix.mu.Lock()
	ix.ensureLocked(user, model)
	ix.mu.Unlock()
}

func (ix *Index) ensureLocked(user, model string) {
	if _, ok := ix.users[user]; !ok {
		ix.users[user] = make(map[string]map[string]chat.Entry)
	}
	if _, ok := ix.users[user][model]; !ok {
		ix.users[user][model] = make(map[string]chat.Entry)
	}
}

// Create mints a fresh session id, records the entry and persists the
// snapshot. It fails only when the snapshot cannot be written.
func (ix *Index) Create(user, model, name string) (string, error) {
	id := uuid.NewString()

	ix.mu.Lock()
	ix.ensureLocked(user, model)
	ix.users[user][model][id] = chat.NewEntry(name)
	ix.mu.Unlock()

	if err := ix.persist(); err != nil {
		return "", err
	}
	return id, nil
}

// Has reports whether the triple is active.
func (ix *Index) Has(user, model, id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.users[user][model][id]
	return ok
}

// Touch refreshes the entry's last-activity marker.
func (ix *Index) Touch(user, model, id string) error {
	ix.mu.Lock()
	entry, ok := ix.users[user][model][id]
	if !ok {
		ix.mu.Unlock()
		return ErrNotFound
	}
	entry.LastActivity = chat.NowMarker()
	ix.users[user][model][id] = entry
	ix.mu.Unlock()

	return ix.persist()
}

// Rename replaces the display name. Blank input is a no-op that still
// refreshes nothing and reports success.
func (ix *Index) Rename(user, model, id, name string) error {
	ix.mu.Lock()
	entry, ok := ix.users[user][model][id]
	if !ok {
		ix.mu.Unlock()
		return ErrNotFound
	}
	if name != "" {
		entry.Name = name
		ix.users[user][model][id] = entry
	}
	ix.mu.Unlock()

	return ix.persist()
}

// Remove deletes the entry and prunes now-empty parent maps.
func (ix *Index) Remove(user, model, id string) error {
	ix.mu.Lock()
	if _, ok := ix.users[user][model][id]; !ok {
		ix.mu.Unlock()
		return ErrNotFound
	}
	delete(ix.users[user][model], id)
	if len(ix.users[user][model]) == 0 {
		delete(ix.users[user], model)
	}
	if len(ix.users[user]) == 0 {
		delete(ix.users, user)
	}
	ix.mu.Unlock()

	return ix.persist()
}

// List returns a deep copy of one user's subtree, empty when the user is
// unknown.
func (ix *Index) List(user string) chat.Listing {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	listing := make(chat.Listing, len(ix.users[user]))
	for model, sessions := range ix.users[user] {
		listing[model] = make(map[string]chat.Entry, len(sessions))
		for id, entry := range sessions {
			listing[model][id] = entry
		}
	}
	return listing
}

// persist rewrites the whole snapshot file. Marshaling happens under the read
// lock; the write itself only holds flushMu.
func (ix *Index) persist() error {
	ix.flushMu.Lock()
	defer ix.flushMu.Unlock()

	ix.mu.RLock()
	snap := make(snapshot, len(ix.users))
	for user, models := range ix.users {
		snap[user] = make(map[string]map[string][]string, len(models))
		for model, sessions := range models {
			snap[user][model] = make(map[string][]string, len(sessions))
			for id, entry := range sessions {
				snap[user][model][id] = []string{entry.Name, entry.LastActivity}
			}
		}
	}
	ix.mu.RUnlock()

	data, err := sonic.ConfigDefault.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a truncated
	// snapshot behind.
	tmp := ix.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(ix.path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	if err := os.Rename(tmp, ix.path); err != nil {
		return fmt.Errorf("replace session index: %w", err)
	}
	return nil
}
