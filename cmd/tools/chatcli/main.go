// chatcli is a local terminal runner for the session core: it talks to the
// same stores and generation backend as the API server, under the fixed user
// id "local". Useful for poking at models without a client in front.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pwalczyk/chatkeeper/internal/config"
	"github.com/pwalczyk/chatkeeper/internal/service/ai"
	"github.com/pwalczyk/chatkeeper/internal/service/session"
	"github.com/pwalczyk/chatkeeper/internal/store/index"
	"github.com/pwalczyk/chatkeeper/internal/store/transcript"
)

const userID = "local"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ix := index.Open(cfg.Storage.IndexFile)
	transcripts := transcript.NewStore(cfg.Storage.ActiveDir, cfg.Storage.ArchiveDir)
	svc := session.NewService(ix, transcripts, ai.NewClient(cfg.AI.Endpoint))

	ctx := context.Background()
	stdin := bufio.NewScanner(os.Stdin)

	model := prompt(stdin, "Model: ")
	if model == "" {
		log.Fatal("a model name is required")
	}
	sessionID := prompt(stdin, "Session ID (blank=new): ")
	name := ""
	if sessionID == "" {
		name = prompt(stdin, "Session name (blank=default): ")
	}

	sessionID, greeting, err := svc.Start(ctx, userID, model, sessionID, name, sessionID == "")
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	if greeting != nil {
		fmt.Printf("%s: %s\n\n", model, greeting.Text)
	}

	fmt.Println("Type 'end' to archive the session, 'exit' to quit.")
	for {
		text := prompt(stdin, "You: ")
		if text == "" {
			continue
		}
		switch strings.ToLower(text) {
		case "exit", "quit":
			return
		case "end":
			ok, err := svc.End(ctx, userID, model, sessionID)
			if err != nil {
				log.Fatalf("failed to archive session: %v", err)
			}
			if ok {
				fmt.Printf("Session %s archived.\n", sessionID)
			} else {
				fmt.Println("Session was not active.")
			}
			return
		}

		reply, err := svc.Chat(ctx, userID, model, sessionID, text)
		if err != nil {
			log.Fatalf("chat turn failed: %v", err)
		}
		if reply.Degraded {
			fmt.Println("(reply may be incomplete; the backend stream degraded)")
		}
		fmt.Printf("%s: %s\n\n", model, reply.Text)
	}
}

func prompt(stdin *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !stdin.Scan() {
		os.Exit(0)
	}
	return strings.TrimSpace(stdin.Text())
}
