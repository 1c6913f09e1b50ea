package websocket

import "encoding/json"

// Close reasons sent with websocket.ClosePolicyViolation during the handshake.
const (
	ReasonTokenMissing = "Token missing"
	ReasonInvalidToken = "Invalid token"
)

// Error texts sent in ErrorFrame.
const (
	ErrTextInvalidToken   = "Invalid token"
	ErrTextInvalidMessage = "Invalid message"
	ErrTextInvalidChat    = "Invalid chat"
	ErrTextNotParticipant = "Not a participant of this chat"
	ErrTextRateLimited    = "Rate limit exceeded"
	ErrTextSendFailed     = "Failed to send message"
)

// HandshakeFrame is the first frame of a connection opened without a token
// in the URL.
type HandshakeFrame struct {
	Token string `json:"token"`
}

// InboundFrame is a chat message sent by a client. Token is optional; when
// present it replaces the token the connection was opened with, letting a
// client keep a socket open across access token refreshes.
type InboundFrame struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	Token   string `json:"token,omitempty"`
}

// ErrorFrame is sent to the originating connection only.
type ErrorFrame struct {
	Error string `json:"error"`
}

func encodeError(text string) []byte {
	b, _ := json.Marshal(ErrorFrame{Error: text})
	return b
}
