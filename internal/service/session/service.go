// Package session orchestrates the index, the transcript store and the
// generation client into the start/chat/end/list/rename lifecycle. It owns
// the invariant that a session's index entry and its active transcript are
// created and removed together.
package session

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/pwalczyk/chatkeeper/internal/model/chat"
	"github.com/pwalczyk/chatkeeper/internal/service/ai"
	"github.com/pwalczyk/chatkeeper/internal/store/index"
	"github.com/pwalczyk/chatkeeper/internal/store/transcript"
)

// ErrSessionNotFound reports an operation on a triple absent from the active
// index.
var ErrSessionNotFound = errors.New("session not found")

const (
	// DefaultName is used when start is given a blank session name.
	DefaultName = "New Session"

	// greetingPrompt is the canned opening input auto-greet sends, quoted
	// so the model reads it as the user saying hi rather than an
	// instruction.
	greetingPrompt = `"Hi"`
)

// Service is the collaborator-facing API of the core.
type Service struct {
	index       *index.Index
	transcripts *transcript.Store
	gen         ai.Generator
	locks       *lockTable
}

// NewService wires the three collaborators together.
func NewService(ix *index.Index, ts *transcript.Store, gen ai.Generator) *Service {
	return &Service{
		index:       ix,
		transcripts: ts,
		gen:         gen,
		locks:       newLockTable(),
	}
}

func sessionKey(user, model, id string) string {
	return user + "\x00" + model + "\x00" + id
}

// Start creates a new session, or idempotently joins an existing one when the
// supplied id is already active for that user/model (no greeting is replayed
// on a join). With autoGreet set, an initial chat turn with a canned opening
// runs immediately and its reply is returned.
func (s *Service) Start(ctx context.Context, user, model, sessionID, name string, autoGreet bool) (string, *ai.Reply, error) {
	s.index.Ensure(user, model)

	if sessionID != "" && s.index.Has(user, model, sessionID) {
		return sessionID, nil, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}

	id, err := s.index.Create(user, model, name)
	if err != nil {
		return "", nil, err
	}
	if err := s.transcripts.Ensure(model, id); err != nil {
		// Keep the entry<->transcript invariant: no transcript, no entry.
		if rmErr := s.index.Remove(user, model, id); rmErr != nil {
			log.Printf("[session] rollback of %s failed: %v", id, rmErr)
		}
		return "", nil, err
	}

	if !autoGreet {
		return id, nil, nil
	}

	greeting, err := s.Chat(ctx, user, model, id, greetingPrompt)
	if err != nil {
		return id, nil, err
	}
	return id, &greeting, nil
}

// Chat runs one turn: refresh the index timestamp, load prior history,
// generate, append both sides to the transcript, return the reply.
func (s *Service) Chat(ctx context.Context, user, model, sessionID, text string) (ai.Reply, error) {
	return s.turn(ctx, user, model, sessionID, text, nil)
}

// ChatStream is Chat with each reply fragment forwarded to sink as it
// arrives. Generators without streaming support deliver the whole reply as a
// single fragment.
func (s *Service) ChatStream(ctx context.Context, user, model, sessionID, text string, sink func(string)) (ai.Reply, error) {
	return s.turn(ctx, user, model, sessionID, text, sink)
}

func (s *Service) turn(ctx context.Context, user, model, sessionID, text string, sink func(string)) (ai.Reply, error) {
	key := sessionKey(user, model, sessionID)
	l := s.locks.acquire(key)
	defer s.locks.release(key, l)

	if !s.index.Has(user, model, sessionID) {
		return ai.Reply{}, ErrSessionNotFound
	}

	if err := s.index.Touch(user, model, sessionID); err != nil {
		return ai.Reply{}, err
	}

	// A crash between the user line and the reply line leaves a dangling
	// user turn; drop it before it pollutes the generation context.
	if repaired, err := s.transcripts.RepairDanglingUser(model, sessionID); err != nil {
		return ai.Reply{}, err
	} else if repaired {
		log.Printf("[session] repaired dangling user line in %s/%s", model, sessionID)
	}

	history, err := s.transcripts.Load(model, sessionID)
	if err != nil {
		return ai.Reply{}, err
	}

	var reply ai.Reply
	if sg, ok := s.gen.(ai.StreamGenerator); ok && sink != nil {
		reply, err = sg.GenerateStream(ctx, model, history, text, sink)
	} else {
		reply, err = s.gen.Generate(ctx, model, history, text)
		if err == nil && sink != nil {
			sink(reply.Text)
		}
	}
	if err != nil {
		return ai.Reply{}, err
	}

	if err := s.transcripts.Append(model, sessionID, text, reply.Text); err != nil {
		return ai.Reply{}, err
	}
	return reply, nil
}

// End archives the transcript and removes the index entry. It reports false
// without error when the triple is not active.
func (s *Service) End(ctx context.Context, user, model, sessionID string) (bool, error) {
	key := sessionKey(user, model, sessionID)
	l := s.locks.acquire(key)
	defer s.locks.release(key, l)

	if !s.index.Has(user, model, sessionID) {
		return false, nil
	}

	if err := s.transcripts.Archive(model, sessionID); err != nil {
		return false, err
	}
	if err := s.index.Remove(user, model, sessionID); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns a read-only copy of the user's index subtree.
func (s *Service) List(ctx context.Context, user string) chat.Listing {
	return s.index.List(user)
}

// Rename updates the display name, ignoring blank input. It reports false
// without error when the triple is not active.
func (s *Service) Rename(ctx context.Context, user, model, sessionID, newName string) (bool, error) {
	err := s.index.Rename(user, model, sessionID, strings.TrimSpace(newName))
	if errors.Is(err, index.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Exchange is the most recent complete user/assistant pair of a session.
// HasUser is false when the pair is the session's opening exchange, whose
// canned prompt is not worth echoing back to a rejoining client.
type Exchange struct {
	User      string `json:"user,omitempty"`
	HasUser   bool   `json:"hasUser"`
	Assistant string `json:"assistant"`
}

// LastExchange returns the latest complete turn of an active session, for
// rejoin surfaces. It reports ok=false when the transcript holds no complete
// pair yet. Any dangling trailing user line is repaired on the way.
func (s *Service) LastExchange(ctx context.Context, user, model, sessionID string) (Exchange, bool, error) {
	key := sessionKey(user, model, sessionID)
	l := s.locks.acquire(key)
	defer s.locks.release(key, l)

	if !s.index.Has(user, model, sessionID) {
		return Exchange{}, false, ErrSessionNotFound
	}

	history, err := s.transcripts.Load(model, sessionID)
	if err != nil {
		return Exchange{}, false, err
	}

	if _, err := s.transcripts.RepairDanglingUser(model, sessionID); err != nil {
		return Exchange{}, false, err
	}

	firstUser := -1
	lastUser := -1
	lastPair := Exchange{}
	found := false
	for i := 0; i < len(history); i++ {
		if history[i].Role == chat.RoleUser && firstUser < 0 {
			firstUser = i
		}
		if i+1 < len(history) &&
			history[i].Role == chat.RoleUser && history[i+1].Role == chat.RoleAssistant {
			lastUser = i
			lastPair = Exchange{User: history[i].Content, HasUser: true, Assistant: history[i+1].Content}
			found = true
		}
	}
	if !found {
		return Exchange{}, false, nil
	}
	if lastUser == firstUser {
		lastPair.User = ""
		lastPair.HasUser = false
	}
	return lastPair, true, nil
}
