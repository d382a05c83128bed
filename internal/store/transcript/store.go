// Package transcript stores each session's conversation as a flat,
// greppable text file: one line per turn side, tagged by role or model name.
// The format is deliberately human-first; the cost is that a single turn
// cannot contain embedded newlines.
package transcript

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pwalczyk/chatkeeper/internal/model/chat"
)

const (
	userPrefix = "User: "

	// markerTimeFormat is the human-readable stamp inside start/end markers.
	markerTimeFormat = "02-01-2006  15:04.05"
)

// Store owns the active and archive transcript areas, both namespaced by
// model: <active>/<model>/<session>.txt.
type Store struct {
	activeDir  string
	archiveDir string
}

// NewStore returns a store writing under the given active and archive roots.
func NewStore(activeDir, archiveDir string) *Store {
	return &Store{activeDir: activeDir, archiveDir: archiveDir}
}

// Path returns the active transcript location for a session.
func (s *Store) Path(model, sessionID string) string {
	return filepath.Join(s.activeDir, model, sessionID+".txt")
}

// ArchivePath returns the archive location a session would move to, before
// any collision disambiguation.
func (s *Store) ArchivePath(model, sessionID string) string {
	return filepath.Join(s.archiveDir, model, sessionID+".txt")
}

// Ensure creates the active transcript and its parent directory if absent,
// writing the session start marker. Existing files are left untouched.
func (s *Store) Ensure(model, sessionID string) error {
	path := s.Path(model, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat transcript: %w", err)
	}

	started := time.Now().Format(markerTimeFormat)
	header := fmt.Sprintf("=-=-=-=-=-=-= Session started: %s =-=-=-=-=-=-=\n\n", started)
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	return nil
}

// Append records one complete turn: the user line followed by the model's
// reply line. The file is created first if a crash removed it. Newlines
// inside either side are flattened to spaces to keep the one-line-per-turn
// format intact.
func (s *Store) Append(model, sessionID, userText, assistantText string) error {
	path := s.Path(model, sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.Ensure(model, sessionID); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	record := fmt.Sprintf("%s%s\n%s: %s\n",
		userPrefix, flatten(userText), model, flatten(assistantText))
	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Load parses the transcript back into an ordered message sequence. Lines
// that are neither user nor assistant records (markers, blanks, anything
// hand-edited in) are skipped, never an error. A missing file yields an empty
// sequence. The parse is pure: re-running it on the same file always gives
// the same result.
func (s *Store) Load(model, sessionID string) ([]chat.Message, error) {
	f, err := os.Open(s.Path(model, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	assistantPrefix := model + ": "
	var msgs []chat.Message

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		switch {
		case strings.HasPrefix(line, userPrefix):
			msgs = append(msgs, chat.UserMessage(line[len(userPrefix):]))
		case strings.HasPrefix(line, assistantPrefix):
			msgs = append(msgs, chat.AssistantMessage(line[len(assistantPrefix):]))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return msgs, nil
}

// Archive appends the session end marker and moves the file into the archive
// area. When an archived file with the same name already exists the new one
// gets a unix-time suffix so neither is overwritten. A missing active file is
// a no-op.
func (s *Store) Archive(model, sessionID string) error {
	path := s.Path(model, sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	ended := time.Now().Format(markerTimeFormat)
	_, err = fmt.Fprintf(f, "\n=-=-=-=-=-=-= Session ended: %s =-=-=-=-=-=-=\n", ended)
	f.Close()
	if err != nil {
		return fmt.Errorf("write end marker: %w", err)
	}

	dest := s.ArchivePath(model, sessionID)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(s.archiveDir, model,
			fmt.Sprintf("%s_%d.txt", sessionID, time.Now().Unix()))
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("archive transcript: %w", err)
	}
	return nil
}

// RepairDanglingUser removes a trailing user line that has no assistant reply
// after it, left behind when a crash lands between "user message received"
// and "reply appended". It reports whether a repair happened.
func (s *Store) RepairDanglingUser(model, sessionID string) (bool, error) {
	path := s.Path(model, sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read transcript: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return false, nil
	}
	last := strings.TrimLeft(lines[len(lines)-1], " \t")
	if !strings.HasPrefix(last, userPrefix) {
		return false, nil
	}

	lines = lines[:len(lines)-1]
	out := strings.Join(lines, "\n")
	if out != "" {
		out += "\n"
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return false, fmt.Errorf("rewrite transcript: %w", err)
	}
	return true, nil
}

func flatten(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return text
}
