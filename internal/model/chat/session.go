package chat

import "time"

// MarkerFormat is the wire format of the last-activity marker kept in the
// session index snapshot. It is treated as an opaque string everywhere else.
const MarkerFormat = time.RFC3339

// Entry is the index value for one active session.
type Entry struct {
	Name         string `json:"name"`
	LastActivity string `json:"lastActivity"`
}

// NewEntry stamps an entry with the current time.
func NewEntry(name string) Entry {
	return Entry{Name: name, LastActivity: NowMarker()}
}

// NowMarker renders the current time as an index marker.
func NowMarker() string {
	return time.Now().UTC().Format(MarkerFormat)
}

// Listing is a read-only copy of one user's sessions, keyed by model then
// session id.
type Listing map[string]map[string]Entry
