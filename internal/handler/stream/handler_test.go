package stream_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pwalczyk/chatkeeper/internal/handler/stream"
	"github.com/pwalczyk/chatkeeper/internal/model/chat"
	"github.com/pwalczyk/chatkeeper/internal/service/ai"
	sessionService "github.com/pwalczyk/chatkeeper/internal/service/session"
	"github.com/pwalczyk/chatkeeper/internal/store/index"
	"github.com/pwalczyk/chatkeeper/internal/store/transcript"
)

type scriptedGenerator struct {
	fragments []string
}

func (s *scriptedGenerator) Generate(ctx context.Context, model string, history []chat.Message, text string) (ai.Reply, error) {
	return ai.Reply{Text: strings.Join(s.fragments, "")}, nil
}

func (s *scriptedGenerator) GenerateStream(ctx context.Context, model string, history []chat.Message, text string, sink func(string)) (ai.Reply, error) {
	for _, fragment := range s.fragments {
		sink(fragment)
	}
	return ai.Reply{Text: strings.Join(s.fragments, "")}, nil
}

func newService(t *testing.T, gen ai.Generator) *sessionService.Service {
	t.Helper()
	root := t.TempDir()
	ix := index.Open(filepath.Join(root, "users_sessions.json"))
	ts := transcript.NewStore(filepath.Join(root, "active"), filepath.Join(root, "archive"))
	return sessionService.NewService(ix, ts, gen)
}

func TestHandleTurnEmitsFragmentsAndEnd(t *testing.T) {
	svc := newService(t, &scriptedGenerator{fragments: []string{"Hel", "lo"}})
	ctx := context.Background()

	id, _, err := svc.Start(ctx, "u1", "modelA", "", "Test", false)
	if err != nil {
		t.Fatal(err)
	}

	h := stream.New(svc)
	resp := httptest.NewRecorder()
	if err := h.HandleTurn(ctx, resp, "u1", "modelA", id, "hi"); err != nil {
		t.Fatalf("HandleTurn err: %v", err)
	}

	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	body := resp.Body.String()
	for _, want := range []string{
		`"event":"start"`,
		`"event":"fragment"`,
		`"content":"Hel"`,
		`"content":"lo"`,
		`"event":"end"`,
		`"content":"Hello"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in stream:\n%s", want, body)
		}
	}
}

func TestHandleTurnUnknownSession(t *testing.T) {
	svc := newService(t, &scriptedGenerator{fragments: []string{"x"}})

	h := stream.New(svc)
	resp := httptest.NewRecorder()
	err := h.HandleTurn(context.Background(), resp, "u1", "modelA", "ghost", "hi")
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
	if !strings.Contains(resp.Body.String(), `"event":"error"`) {
		t.Fatalf("error event not emitted:\n%s", resp.Body.String())
	}
}
