// Package ai mediates single-request/single-response exchanges with a remote
// chat-completion backend. The backend speaks a chunked-JSON contract: the
// request carries the model name plus the full message history, the response
// body is a stream of JSON lines each optionally holding a reply fragment.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/pwalczyk/chatkeeper/internal/model/chat"
)

// Reply is an assembled assistant response. Degraded reports that fragments
// were lost along the way (malformed chunk, dropped connection), so callers
// can tell a genuinely empty reply from a failing stream.
type Reply struct {
	Text     string `json:"text"`
	Degraded bool   `json:"degraded"`
}

// Generator is the capability the session service depends on.
type Generator interface {
	Generate(ctx context.Context, model string, history []chat.Message, userText string) (Reply, error)
}

// StreamGenerator additionally forwards each fragment as it arrives, for
// live-streaming surfaces.
type StreamGenerator interface {
	Generator
	GenerateStream(ctx context.Context, model string, history []chat.Message, userText string, sink func(fragment string)) (Reply, error)
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Client talks to one backend endpoint. Generation calls carry no timeout of
// their own; cancellation is the caller's context.
type Client struct {
	endpoint string
	httpc    *http.Client
}

// NewClient returns a client for the given chat endpoint URL
// (e.g. http://localhost:11434/api/chat).
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpc:    &http.Client{},
	}
}

// Generate sends the history plus the new user message and accumulates the
// streamed reply into one string. A total connection failure degrades to an
// empty reply rather than an error: the backend being down must not fail the
// turn.
func (c *Client) Generate(ctx context.Context, model string, history []chat.Message, userText string) (Reply, error) {
	return c.GenerateStream(ctx, model, history, userText, nil)
}

// GenerateStream is Generate with a per-fragment sink. A nil sink is allowed.
func (c *Client) GenerateStream(ctx context.Context, model string, history []chat.Message, userText string, sink func(string)) (Reply, error) {
	outbound := make([]chat.Message, 0, len(history)+1)
	outbound = append(outbound, history...)
	outbound = append(outbound, chat.UserMessage(userText))

	body, err := sonic.Marshal(chatRequest{Model: model, Messages: outbound})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		log.Printf("[ai] generation request failed for model=%s: %v", model, err)
		return Reply{Degraded: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		log.Printf("[ai] generation endpoint returned %d for model=%s", resp.StatusCode, model)
		return Reply{Degraded: true}, nil
	}

	var parts []string
	degraded := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk chatChunk
		if err := sonic.UnmarshalString(line, &chunk); err != nil {
			// Skip the malformed fragment, keep whatever else arrives.
			degraded = true
			continue
		}
		if chunk.Message.Content != "" {
			parts = append(parts, chunk.Message.Content)
			if sink != nil {
				sink(chunk.Message.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[ai] stream ended early for model=%s: %v", model, err)
		degraded = true
	}

	return Reply{Text: strings.Join(parts, ""), Degraded: degraded}, nil
}

// Ping probes the backend's root URL. The backend is a configured capability,
// not a process this service owns, so an unreachable backend is reported, not
// fatal.
func (c *Client) Ping(ctx context.Context) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	u.Path, u.RawQuery = "/", ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("generation backend unreachable: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
