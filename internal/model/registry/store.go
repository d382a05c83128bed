package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// Store exposes model lookup for HTTP handlers.
type Store interface {
	List() []Model
	// Find resolves a model name case-insensitively and returns the
	// canonical entry.
	Find(name string) (Model, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Model
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied models.
func NewMemoryStore(items []Model) *MemoryStore {
	return &MemoryStore{items: append([]Model(nil), items...)}
}

// List returns the configured models.
func (s *MemoryStore) List() []Model {
	return append([]Model(nil), s.items...)
}

// Find looks up a model by name, ignoring case.
func (s *MemoryStore) Find(name string) (Model, bool) {
	for _, item := range s.items {
		if strings.EqualFold(item.Name, name) {
			return item, true
		}
	}
	return Model{}, false
}

// LoadFile reads a models file and returns a store over its contents.
// The file maps model name to a [description, avatarURL] pair:
//
//	{"modelA": ["A general assistant", "https://..."], ...}
//
// A missing file yields an empty store rather than an error so the service
// can come up before any model has been configured.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewMemoryStore(nil), nil
		}
		return nil, fmt.Errorf("read models file: %w", err)
	}

	raw := map[string][]string{}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}

	items := make([]Model, 0, len(raw))
	for name, fields := range raw {
		m := Model{Name: name}
		if len(fields) > 0 {
			m.Description = fields[0]
		}
		if len(fields) > 1 {
			m.AvatarURL = fields[1]
		}
		items = append(items, m)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	return NewMemoryStore(items), nil
}
