package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dom/livechat/internal/domain"
	applog "github.com/dom/livechat/internal/log"
	"github.com/dom/livechat/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Authenticator verifies access tokens and resolves the user behind them.
type Authenticator interface {
	Authenticate(token string) (uuid.UUID, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// MessageSender persists messages and knows who takes part in a chat.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID uuid.UUID, sender domain.PublicUser, content string) (*domain.Message, error)
	Participants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
}

// State is the lifecycle stage of one connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type GatewayConfig struct {
	AllowedOrigins    []string
	MessagesPerSecond float64
	MessageBurst      int
	HandshakeTimeout  time.Duration
	// StoreTimeout bounds one message's persistence. It is not tied to the
	// connection, so a send in flight when the client disconnects still
	// completes and is broadcast.
	StoreTimeout time.Duration
}

// Gateway upgrades HTTP requests to chat connections and runs each
// connection's protocol.
type Gateway struct {
	registry *Registry
	auth     Authenticator
	chats    MessageSender
	upgrader websocket.Upgrader
	cfg      GatewayConfig
	locks    *chatLocks
	sessions sync.WaitGroup
	logger   zerolog.Logger
}

func NewGateway(registry *Registry, auth Authenticator, chats MessageSender, cfg GatewayConfig) *Gateway {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 5
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 10
	}

	g := &Gateway{
		registry: registry,
		auth:     auth,
		chats:    chats,
		cfg:      cfg,
		locks:    newChatLocks(),
		logger:   applog.Component("gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	g.sessions.Add(1)
	defer g.sessions.Done()

	s := &session{
		gateway: g,
		conn:    conn,
		client:  NewClient(conn),
		state:   StateConnecting,
		limiter: rate.NewLimiter(rate.Limit(g.cfg.MessagesPerSecond), g.cfg.MessageBurst),
	}
	s.logger = g.logger.With().Str("conn", s.client.ID().String()).Logger()
	s.run(r.URL.Query().Get("token"))
}

// Shutdown closes every live connection and waits for their sessions to end
// or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		g.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type session struct {
	gateway *Gateway
	conn    *websocket.Conn
	client  *Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	state State
	user  domain.PublicUser
	token string
}

func (s *session) transition(to State) {
	s.logger.Debug().Stringer("from", s.state).Stringer("to", to).Msg("state change")
	s.state = to
}

func (s *session) run(queryToken string) {
	defer s.close()

	token := queryToken
	if token == "" {
		token = s.readHandshakeFrame()
	}
	if token == "" {
		metrics.WsRejectedTotal.WithLabelValues("token_missing").Inc()
		s.reject(ReasonTokenMissing)
		return
	}

	if !s.authenticate(token) {
		metrics.WsRejectedTotal.WithLabelValues("invalid_token").Inc()
		s.reject(ReasonInvalidToken)
		return
	}

	s.gateway.registry.Register(s.client.ID(), s.user.ID, s.client)
	go s.client.WritePump()
	s.transition(StateActive)

	s.readLoop()
}

// readHandshakeFrame waits briefly for a {"token": ...} frame.
func (s *session) readHandshakeFrame() string {
	s.conn.SetReadDeadline(time.Now().Add(s.gateway.cfg.HandshakeTimeout))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return ""
	}
	var frame HandshakeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ""
	}
	return strings.TrimSpace(frame.Token)
}

func (s *session) authenticate(token string) bool {
	userID, err := s.gateway.auth.Authenticate(token)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gateway.cfg.StoreTimeout)
	defer cancel()
	user, err := s.gateway.auth.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Error().Err(err).Msg("failed to load user during handshake")
		}
		return false
	}

	s.user = user.Public()
	s.token = token
	s.logger = s.logger.With().Str("user", user.ID.String()).Logger()
	s.transition(StateAuthenticated)
	return true
}

func (s *session) reject(reason string) {
	s.logger.Info().Str("reason", reason).Msg("handshake rejected")
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError(ErrTextInvalidMessage)
			continue
		}
		s.handleFrame(frame)
	}
}

// handleFrame is the single authorization point for an inbound message.
func (s *session) handleFrame(frame InboundFrame) {
	if !s.limiter.Allow() {
		metrics.WsRejectedTotal.WithLabelValues("rate_limited").Inc()
		s.sendError(ErrTextRateLimited)
		return
	}

	token := s.token
	if frame.Token != "" {
		token = frame.Token
	}
	userID, err := s.gateway.auth.Authenticate(token)
	if err != nil || userID != s.user.ID {
		metrics.WsRejectedTotal.WithLabelValues("invalid_token").Inc()
		s.sendError(ErrTextInvalidToken)
		return
	}
	s.token = token

	chatID, err := uuid.Parse(frame.ChatID)
	if err != nil {
		s.sendError(ErrTextInvalidChat)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gateway.cfg.StoreTimeout)
	defer cancel()

	unlock := s.gateway.locks.Lock(chatID)
	defer unlock()

	msg, err := s.gateway.chats.SendMessage(ctx, chatID, s.user, frame.Content)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotParticipant):
			s.sendError(ErrTextNotParticipant)
		case errors.Is(err, domain.ErrInvalidMessage):
			s.sendError(ErrTextInvalidMessage)
		default:
			s.logger.Error().Err(err).Str("chat", chatID.String()).Msg("failed to persist message")
			s.sendError(ErrTextSendFailed)
		}
		return
	}
	metrics.WsMessagesTotal.Inc()

	participants, err := s.gateway.chats.Participants(ctx, chatID)
	if err != nil {
		s.logger.Error().Err(err).Str("chat", chatID.String()).Msg("message stored but participants unavailable, not broadcast")
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode message")
		return
	}
	s.gateway.registry.BroadcastExcept(s.client.ID(), payload, Participants(participants))
}

func (s *session) sendError(text string) {
	if err := s.client.Enqueue(encodeError(text)); err != nil {
		s.logger.Debug().Err(err).Msg("could not deliver error frame")
	}
}

func (s *session) close() {
	if s.state == StateClosed {
		return
	}
	if !s.gateway.registry.Unregister(s.client.ID()) {
		// Never registered, so no writePump owns the socket.
		s.conn.Close()
	}
	s.transition(StateClosed)
}

// originChecker allows any origin when none are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if normalized, ok := normalizeOrigin(origin); ok {
			set[normalized] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		normalized, ok := normalizeOrigin(origin)
		if !ok {
			return false
		}
		_, ok = set[normalized]
		return ok
	}
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
