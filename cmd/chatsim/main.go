package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
)

func main() {
	defaultURL := "http://localhost:8080"
	if envURL := os.Getenv("API_URL"); envURL != "" {
		defaultURL = envURL
	}

	apiURL := flag.String("api", defaultURL, "backend base URL")
	count := flag.Int("count", 5, "number of messages each user sends")
	password := flag.String("password", "testpassword123", "password for the generated users")
	flag.Usage = printUsage
	flag.Parse()

	if *count < 1 {
		fmt.Println("Error: --count must be at least 1")
		os.Exit(1)
	}

	if err := run(strings.TrimRight(*apiURL, "/"), *count, *password); err != nil {
		fmt.Printf("FAILED\n  Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Chat Simulator - smoke test for the live messaging backend

Registers two users, starts a chat between them, connects both over
websocket and exchanges messages, then checks the REST history.

USAGE:
  chatsim [options]

OPTIONS:`)
	flag.PrintDefaults()
	fmt.Println(`
ENVIRONMENT:
  API_URL   Backend API URL (default: http://localhost:8080)`)
}

func run(apiURL string, count int, password string) error {
	client := NewAPIClient(apiURL)

	fmt.Println("=== Chat Simulator ===")
	fmt.Println()

	fmt.Print("Registering users... ")
	alice, aliceToken, err := client.RegisterUser("alice", password)
	if err != nil {
		return err
	}
	bob, bobToken, err := client.RegisterUser("bob", password)
	if err != nil {
		return err
	}
	fmt.Printf("OK (%s, %s)\n", alice.Username, bob.Username)

	fmt.Print("Starting chat... ")
	chat, err := client.StartChat(aliceToken, bob.Username)
	if err != nil {
		return err
	}
	fmt.Printf("OK (%s)\n", chat.ID)

	fmt.Print("Connecting websockets... ")
	aliceConn, err := dial(apiURL, aliceToken)
	if err != nil {
		return err
	}
	defer aliceConn.Close()
	bobConn, err := dial(apiURL, bobToken)
	if err != nil {
		return err
	}
	defer bobConn.Close()
	// Give the server a moment to register both connections.
	time.Sleep(200 * time.Millisecond)
	fmt.Println("OK")

	fmt.Println()
	fmt.Printf("Exchanging %d message(s) each:\n", count)
	for i := 0; i < count; i++ {
		if err := exchange(aliceConn, bobConn, chat.ID, fmt.Sprintf("hello %d from %s", i, alice.Username)); err != nil {
			return err
		}
		if err := exchange(bobConn, aliceConn, chat.ID, fmt.Sprintf("reply %d from %s", i, bob.Username)); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Print("Checking history... ")
	msgs, err := client.RecentMessages(bobToken, chat.ID)
	if err != nil {
		return err
	}
	if len(msgs) != 2*count {
		return fmt.Errorf("expected %d messages in history, got %d", 2*count, len(msgs))
	}
	fmt.Printf("OK (%d messages, newest: %q)\n", len(msgs), msgs[0].Content)

	fmt.Println()
	fmt.Println("=========================================")
	fmt.Println("  LIVE MESSAGING OK")
	fmt.Println("=========================================")
	return nil
}

func dial(apiURL, token string) (*websocket.Conn, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func exchange(from, to *websocket.Conn, chatID, content string) error {
	frame := map[string]string{"chatId": chatID, "content": content}
	if err := from.WriteJSON(frame); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	to.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := to.ReadMessage()
	if err != nil {
		return fmt.Errorf("receive failed: %w", err)
	}

	var msg struct {
		Message
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("bad frame: %w", err)
	}
	if msg.Error != "" {
		return fmt.Errorf("server error: %s", msg.Error)
	}
	if msg.Content != content {
		return fmt.Errorf("expected %q, got %q", content, msg.Content)
	}
	sender := "?"
	if msg.Sender != nil {
		sender = msg.Sender.Username
	}
	fmt.Printf("  %s -> %q\n", sender, msg.Content)
	return nil
}
