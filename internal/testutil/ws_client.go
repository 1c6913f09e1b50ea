package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/dom/livechat/internal/websocket"
	gorillaWS "github.com/gorilla/websocket"
)

// Frame is one server frame: either a delivered message or an error.
type Frame struct {
	Message *domain.Message
	Error   string
}

// WSClient is a test WebSocket client
type WSClient struct {
	t      *testing.T
	conn   *gorillaWS.Conn
	frames chan Frame
	errors chan error
	done   chan struct{}
	mu     sync.Mutex
}

// NewWSClient creates a new WebSocket test client
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()

	dialer := *gorillaWS.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect to websocket: %v", err)
	}

	client := &WSClient{
		t:      t,
		conn:   conn,
		frames: make(chan Frame, 100),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
	}

	go client.readPump()

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

// ConnectWS dials with the token in the query and waits until the server has
// registered the connection.
func ConnectWS(t *testing.T, ts *TestServer, token string) *WSClient {
	t.Helper()

	before := ts.Registry.Count()
	client := NewWSClient(t, ts.WebSocketURL(token))
	deadline := time.Now().Add(2 * time.Second)
	for ts.Registry.Count() <= before {
		if time.Now().After(deadline) {
			t.Fatalf("websocket connection was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return client
}

// readPump reads frames from the WebSocket connection
func (c *WSClient) readPump() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			case c.errors <- err:
			}
			return
		}

		var frame Frame
		var errFrame websocket.ErrorFrame
		if json.Unmarshal(data, &errFrame) == nil && errFrame.Error != "" {
			frame.Error = errFrame.Error
		} else {
			var msg domain.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.errors <- err
				continue
			}
			frame.Message = &msg
		}

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

// Send writes a chat message frame.
func (c *WSClient) Send(chatID, content string) {
	c.t.Helper()
	c.SendFrame(websocket.InboundFrame{ChatID: chatID, Content: content})
}

func (c *WSClient) SendFrame(frame websocket.InboundFrame) {
	c.t.Helper()

	c.mu.Lock()
	err := c.conn.WriteJSON(frame)
	c.mu.Unlock()

	if err != nil {
		c.t.Fatalf("failed to send frame: %v", err)
	}
}

// ExpectMessage waits for the next frame and requires it to be a message.
func (c *WSClient) ExpectMessage(timeout time.Duration) *domain.Message {
	c.t.Helper()

	frame := c.next(timeout)
	if frame.Message == nil {
		c.t.Fatalf("expected message, got error frame %q", frame.Error)
	}
	return frame.Message
}

// ExpectError waits for the next frame and requires it to be an error.
func (c *WSClient) ExpectError(timeout time.Duration) string {
	c.t.Helper()

	frame := c.next(timeout)
	if frame.Message != nil {
		c.t.Fatalf("expected error frame, got message %q", frame.Message.Content)
	}
	return frame.Error
}

// ExpectNoFrame fails if any frame arrives within d.
func (c *WSClient) ExpectNoFrame(d time.Duration) {
	c.t.Helper()

	select {
	case frame, ok := <-c.frames:
		if ok {
			c.t.Fatalf("unexpected frame: %+v", frame)
		}
	case <-time.After(d):
	}
}

// ExpectClose waits for the server to close the connection and returns the
// close code and reason.
func (c *WSClient) ExpectClose(timeout time.Duration) (int, string) {
	c.t.Helper()

	select {
	case err := <-c.errors:
		var closeErr *gorillaWS.CloseError
		if errors.As(err, &closeErr) {
			return closeErr.Code, closeErr.Text
		}
		c.t.Fatalf("expected close frame, got %v", err)
	case <-time.After(timeout):
		c.t.Fatalf("timeout waiting for close")
	}
	return 0, ""
}

func (c *WSClient) next(timeout time.Duration) Frame {
	c.t.Helper()

	select {
	case frame, ok := <-c.frames:
		if !ok {
			c.t.Fatalf("connection closed while waiting for frame")
		}
		return frame
	case err := <-c.errors:
		c.t.Fatalf("websocket error: %v", err)
	case <-time.After(timeout):
		c.t.Fatalf("timeout waiting for frame")
	}
	return Frame{}
}

// Close closes the WebSocket connection gracefully
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
		c.conn.Close()
	}
}
