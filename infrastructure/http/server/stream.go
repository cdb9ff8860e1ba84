package server

import (
	"chat-engine/auth"
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxFrameSize = 4096
	writeTimeout = 10 * time.Second

	frameSubscribed = "subscribed"
	frameError      = "error"
)

var validate = validator.New()

type clientFrame struct {
	Action   string `json:"action" validate:"required,oneof=subscribe unsubscribe typing"`
	Topic    string `json:"topic" validate:"required"`
	IsTyping bool   `json:"is_typing"`
}

type serverFrame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// streamClient is one websocket. Subscriptions belong to the socket and are
// all cancelled when it closes. Frames are queued on send and written by a
// single goroutine; a full queue drops ephemeral frames for this client only.
type streamClient struct {
	id     string
	userID string
	log    *slog.Logger
	conn   *websocket.Conn
	send   chan serverFrame
	done   chan struct{}

	mu            sync.Mutex
	subscriptions map[domain.Topic]contract.Subscription
	closeOnce     sync.Once
}

func newStreamClient(log *slog.Logger, conn *websocket.Conn, userID string, buffer int) *streamClient {
	id := uuid.NewString()
	return &streamClient{
		id:            id,
		userID:        userID,
		log:           log.With("user_id", userID, "socket_id", id),
		conn:          conn,
		send:          make(chan serverFrame, buffer),
		done:          make(chan struct{}),
		subscriptions: make(map[domain.Topic]contract.Subscription),
	}
}

// stream upgrades the request and serves the socket until it closes.
// Opening the socket connects the user, closing it disconnects them once
// their last socket is gone.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "error", err)
		return
	}
	userID := auth.UserID(c)
	client := newStreamClient(s.log, conn, userID, max(1, s.config.ConnectionBufferSize))
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	s.open(ctx, client)
	defer s.release(ctx, client)

	client.log.Info("Stream opened")
	go client.writePump(s.config.PingInterval)
	client.readPump(s.config.PingInterval, func(frame clientFrame) {
		s.handleFrame(ctx, client, frame)
	})
	client.log.Info("Stream closed")
}

func (s *Server) open(ctx context.Context, client *streamClient) {
	s.mu.Lock()
	s.streams[client] = struct{}{}
	s.sockets[client.userID]++
	first := s.sockets[client.userID] == 1
	at := s.stamp()
	s.mu.Unlock()
	if !first {
		return
	}
	if err := s.services.Presence.Connect(ctx, client.userID, at); err != nil {
		s.log.Warn("Presence connect failed", "user_id", client.userID, "error", err)
	}
}

// release closes the client and disconnects its user with their last socket.
func (s *Server) release(ctx context.Context, client *streamClient) {
	client.close()
	s.mu.Lock()
	delete(s.streams, client)
	s.sockets[client.userID]--
	last := s.sockets[client.userID] <= 0
	if last {
		delete(s.sockets, client.userID)
	}
	at := s.stamp()
	s.mu.Unlock()
	if !last {
		return
	}
	if err := s.services.Presence.Disconnect(ctx, client.userID, at); err != nil {
		s.log.Warn("Presence disconnect failed", "user_id", client.userID, "error", err)
	}
}

// stamp returns a presence timestamp strictly after the previous one, so
// signals keep the order of the socket counts even when they reach the
// tracker out of order. The caller holds s.mu.
func (s *Server) stamp() time.Time {
	at := s.now()
	if !at.After(s.lastStamp) {
		at = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = at
	return at
}

// CloseStreams closes every open socket. http.Server.Shutdown does not
// track hijacked connections, so it is registered with RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.mu.Lock()
	clients := make([]*streamClient, 0, len(s.streams))
	for client := range s.streams {
		clients = append(clients, client)
	}
	s.mu.Unlock()
	for _, client := range clients {
		client.close()
	}
	s.log.Info("Streams closed", "count", len(clients))
}

func (s *Server) handleFrame(ctx context.Context, client *streamClient, frame clientFrame) {
	if err := validate.Struct(frame); err != nil {
		client.push(errorFrame(frame.Topic, err))
		return
	}
	topic, err := domain.ParseTopic(frame.Topic)
	if err != nil {
		client.push(errorFrame(frame.Topic, err))
		return
	}
	switch frame.Action {
	case "subscribe":
		err = s.subscribe(ctx, client, topic)
	case "unsubscribe":
		client.unsubscribe(topic)
	case "typing":
		err = s.typing(ctx, client, topic, frame.IsTyping)
	}
	if err != nil {
		client.push(errorFrame(frame.Topic, err))
	}
}

// subscribe is idempotent per socket and topic. Messages posted before the
// subscription are recovered by listing the topic.
func (s *Server) subscribe(ctx context.Context, client *streamClient, topic domain.Topic) error {
	if err := s.services.Access.CanRead(ctx, topic, client.userID); err != nil {
		return err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	select {
	case <-client.done:
		return fmt.Errorf("%w: socket %s", errors.ErrStreamClosed, client.id)
	default:
	}
	if _, ok := client.subscriptions[topic]; !ok {
		subscription, err := s.services.Bus.Subscribe(topic, client.id, func(e event.DomainEvent) {
			client.push(serverFrame{Type: string(e.Type()), Topic: e.Topic().String(), Payload: toPayload(e)})
		})
		if err != nil {
			return err
		}
		client.subscriptions[topic] = subscription
	}
	client.push(serverFrame{Type: frameSubscribed, Topic: topic.String()})
	return nil
}

func (s *Server) typing(ctx context.Context, client *streamClient, topic domain.Topic, isTyping bool) error {
	if !topic.IsConversation() {
		return fmt.Errorf("%w: typing is only signalled in conversations", errors.ErrInvalidTopic)
	}
	id, err := topic.ID()
	if err != nil {
		return err
	}
	return s.services.Chat.SignalTyping(ctx, id, client.userID, isTyping)
}

func (c *streamClient) unsubscribe(topic domain.Topic) {
	c.mu.Lock()
	subscription, ok := c.subscriptions[topic]
	delete(c.subscriptions, topic)
	c.mu.Unlock()
	if ok {
		subscription.Cancel()
	}
}

// push never blocks the bus subscription delivering the frame.
func (c *streamClient) push(frame serverFrame) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.log.Debug(errors.ErrTransientDelivery.Error(), "type", frame.Type, "topic", frame.Topic)
	}
}

func (c *streamClient) readPump(pingInterval time.Duration, handle func(clientFrame)) {
	c.conn.SetReadLimit(maxFrameSize)
	deadline := 2 * pingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Stream read failed", "error", err)
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.push(errorFrame("", fmt.Errorf("invalid frame: %w", err)))
			continue
		}
		handle(frame)
	}
}

func (c *streamClient) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.log.Debug("Stream write failed", "error", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// close cancels every subscription of the socket, then the socket itself.
func (c *streamClient) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		subscriptions := c.subscriptions
		c.subscriptions = make(map[domain.Topic]contract.Subscription)
		c.mu.Unlock()
		for _, subscription := range subscriptions {
			subscription.Cancel()
		}
		_ = c.conn.Close()
	})
}

func errorFrame(topic string, err error) serverFrame {
	return serverFrame{Type: frameError, Topic: topic, Payload: map[string]string{"error": err.Error()}}
}
