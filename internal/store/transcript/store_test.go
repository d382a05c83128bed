package transcript_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pwalczyk/chatkeeper/internal/model/chat"
	"github.com/pwalczyk/chatkeeper/internal/store/transcript"
)

func newStore(t *testing.T) *transcript.Store {
	t.Helper()
	root := t.TempDir()
	return transcript.NewStore(filepath.Join(root, "active"), filepath.Join(root, "archive"))
}

func TestEnsureWritesStartMarker(t *testing.T) {
	s := newStore(t)

	if err := s.Ensure("modelA", "s1"); err != nil {
		t.Fatalf("Ensure err: %v", err)
	}

	data, err := os.ReadFile(s.Path("modelA", "s1"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.HasPrefix(string(data), "=-=-=-=-=-=-= Session started: ") {
		t.Fatalf("missing start marker, got %q", string(data))
	}

	msgs, err := s.Load("modelA", "s1")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(msgs))
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	s := newStore(t)

	if err := s.Ensure("modelA", "s1"); err != nil {
		t.Fatalf("Ensure err: %v", err)
	}
	if err := s.Append("modelA", "s1", "hi", "hello"); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if err := s.Ensure("modelA", "s1"); err != nil {
		t.Fatalf("second Ensure err: %v", err)
	}

	msgs, err := s.Load("modelA", "s1")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Ensure truncated an existing transcript: %d messages", len(msgs))
	}
}

func TestAppendLoadRoundTrip(t *testing.T) {
	s := newStore(t)

	turns := [][2]string{
		{"Hello", "Hi, how can I help?"},
		{"What's Go?", "A programming language."},
		{"Thanks", "You're welcome."},
	}
	for _, turn := range turns {
		if err := s.Append("modelA", "s1", turn[0], turn[1]); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}

	for attempt := 0; attempt < 3; attempt++ {
		msgs, err := s.Load("modelA", "s1")
		if err != nil {
			t.Fatalf("Load err: %v", err)
		}
		if len(msgs) != len(turns)*2 {
			t.Fatalf("expected %d messages, got %d", len(turns)*2, len(msgs))
		}
		for i, turn := range turns {
			user, assistant := msgs[2*i], msgs[2*i+1]
			if user.Role != chat.RoleUser || user.Content != turn[0] {
				t.Fatalf("turn %d user side: %+v", i, user)
			}
			if assistant.Role != chat.RoleAssistant || assistant.Content != turn[1] {
				t.Fatalf("turn %d assistant side: %+v", i, assistant)
			}
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := newStore(t)

	msgs, err := s.Load("modelA", "nope")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected nil history, got %v", msgs)
	}
}

func TestLoadIgnoresUnknownLines(t *testing.T) {
	s := newStore(t)
	path := s.Path("modelA", "s1")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	raw := "=-=-=-=-=-=-= Session started: 01-01-2025  10:00.00 =-=-=-=-=-=-=\n" +
		"\n" +
		"User: first\n" +
		"modelA: second\n" +
		"some hand-edited note\n" +
		"otherModel: not ours\n" +
		"User: third\n" +
		"modelA: fourth\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Load("modelA", "s1")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	want := []string{"first", "second", "third", "fourth"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, content := range want {
		if msgs[i].Content != content {
			t.Fatalf("message %d: got %q want %q", i, msgs[i].Content, content)
		}
	}
}

func TestAppendFlattensNewlines(t *testing.T) {
	s := newStore(t)

	if err := s.Append("modelA", "s1", "line one\nline two", "reply\r\nmore"); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	msgs, err := s.Load("modelA", "s1")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("embedded newline broke the record format: %d messages", len(msgs))
	}
	if msgs[0].Content != "line one line two" {
		t.Fatalf("user side: %q", msgs[0].Content)
	}
	if msgs[1].Content != "reply more" {
		t.Fatalf("assistant side: %q", msgs[1].Content)
	}
}

func TestArchiveMovesWithEndMarker(t *testing.T) {
	s := newStore(t)

	if err := s.Append("modelA", "s1", "hi", "hello"); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if err := s.Archive("modelA", "s1"); err != nil {
		t.Fatalf("Archive err: %v", err)
	}

	if _, err := os.Stat(s.Path("modelA", "s1")); !os.IsNotExist(err) {
		t.Fatalf("active transcript still present after archive")
	}

	data, err := os.ReadFile(s.ArchivePath("modelA", "s1"))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	trimmed := strings.TrimRight(string(data), "\n")
	lines := strings.Split(trimmed, "\n")
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "=-=-=-=-=-=-= Session ended: ") {
		t.Fatalf("missing end marker, last line %q", last)
	}
}

func TestArchiveMissingIsNoop(t *testing.T) {
	s := newStore(t)

	if err := s.Archive("modelA", "never-started"); err != nil {
		t.Fatalf("Archive err: %v", err)
	}
}

func TestArchiveNameCollision(t *testing.T) {
	s := newStore(t)

	if err := s.Append("modelA", "s1", "first session", "reply"); err != nil {
		t.Fatal(err)
	}
	if err := s.Archive("modelA", "s1"); err != nil {
		t.Fatal(err)
	}

	// Same id reused after the first archive.
	if err := s.Append("modelA", "s1", "second session", "reply"); err != nil {
		t.Fatal(err)
	}
	if err := s.Archive("modelA", "s1"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.ArchivePath("modelA", "s1")))
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 archived files, got %d", len(entries))
	}
}

func TestRepairDanglingUser(t *testing.T) {
	s := newStore(t)

	if err := s.Append("modelA", "s1", "hi", "hello"); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash between the user line and the reply line.
	f, err := os.OpenFile(s.Path("modelA", "s1"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("User: orphaned question\n\n\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	repaired, err := s.RepairDanglingUser("modelA", "s1")
	if err != nil {
		t.Fatalf("Repair err: %v", err)
	}
	if !repaired {
		t.Fatal("expected a repair")
	}

	msgs, err := s.Load("modelA", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected the orphan gone, got %d messages", len(msgs))
	}

	// A second pass must be stable.
	repaired, err = s.RepairDanglingUser("modelA", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if repaired {
		t.Fatal("repair is not idempotent")
	}
}

func TestRepairNoDangling(t *testing.T) {
	s := newStore(t)

	if err := s.Append("modelA", "s1", "hi", "hello"); err != nil {
		t.Fatal(err)
	}

	repaired, err := s.RepairDanglingUser("modelA", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if repaired {
		t.Fatal("unexpected repair on a well-formed transcript")
	}
}

func TestRepairMissingFile(t *testing.T) {
	s := newStore(t)

	repaired, err := s.RepairDanglingUser("modelA", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if repaired {
		t.Fatal("repair reported on a missing file")
	}
}
