package server

import (
	"bytes"
	"chat-engine/auth"
	"chat-engine/collaborators"
	"chat-engine/repositories"
	"chat-engine/runtime"
	"chat-engine/services"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

const directoryYAML = `
users:
  - id: alice
    name: Alice
  - id: bob
    name: Bob
  - id: carol
    name: Carol
follows:
  alice: [bob]
  carol: [alice]
`

type testServer struct {
	*httptest.Server
	issuer   auth.TokenIssuer
	api      *Server
	registry *runtime.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	directory, err := collaborators.ParseDirectory([]byte(directoryYAML))
	require.NoError(t, err)

	registry := runtime.NewRegistry()
	bus := runtime.NewBus(log, registry, nil, runtime.BusConfig{
		Shards: 2, ShardBuffer: 64, SubscriptionBuffer: 64, SinkTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	for _, worker := range bus.Workers() {
		go func() { _ = worker.Run(ctx) }()
	}

	locks := runtime.NewKeyedMutex()
	messages := repositories.NewMessageRepository(db, log, lo.ToPtr(2))
	conversations := repositories.NewConversationRepository(db, log)
	communities := repositories.NewCommunityRepository(db, log)
	access := services.NewAccessControl(conversations, communities)
	store := services.NewMessageStore(log, messages, access, nil, locks, nil, 500)
	presence := services.NewPresenceTracker(log, bus, access, locks, nil)
	typing := services.NewTypingCoordinator(log, bus, presence, access, locks, nil, services.DefaultTypingTTL)

	svc := Services{
		Chat: services.NewChatService(log, conversations, store, typing, presence, directory, directory, bus, locks),
		Communities: services.NewCommunityService(log, communities, store,
			collaborators.NewContextCountryDetector(""), bus, locks, false),
		Messages:  store,
		Reactions: services.NewReactionAggregator(log, messages, access, bus, locks),
		Presence:  presence,
		Access:    access,
		Bus:       bus,
	}
	issuer := auth.NewTokenIssuer("a-test-secret-long-enough-for-hs256", time.Hour)
	server := NewServer(log, svc, issuer, auth.NewLimiterPool(1000, 1000), nil, prometheus.NewRegistry(),
		Config{PingInterval: time.Second, ConnectionBufferSize: 16})

	ts := &testServer{Server: httptest.NewServer(server.Handler()), issuer: issuer, api: server, registry: registry}
	t.Cleanup(func() {
		ts.Close()
		typing.Close()
		bus.Close()
		cancel()
		_ = db.Close()
	})
	return ts
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.issuer.GenerateToken(userID, []string{"user"})
	require.NoError(t, err)
	return token
}

// call sends a JSON request as userID and decodes the response into out.
func (s *testServer) call(t *testing.T, userID, method, path string, body any, out any, headers ...string) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	r, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	r.Header.Set("Content-Type", "application/json")
	if userID != "" {
		r.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	res, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil && res.StatusCode < http.StatusMultipleChoices {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestServer_Health_And_Authentication(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	req.Equal(http.StatusOK, ts.call(t, "", http.MethodGet, "/healthz", nil, nil))
	req.Equal(http.StatusOK, ts.call(t, "", http.MethodGet, "/metrics", nil, nil))
	req.Equal(http.StatusUnauthorized, ts.call(t, "", http.MethodGet, "/v1/conversations", nil, nil))
}

func TestServer_Conversation_Flow(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	// Given alice and bob both start the same chat
	var fromAlice, fromBob conversationResponse
	req.Equal(http.StatusOK, ts.call(t, "alice", http.MethodPost, "/v1/conversations",
		createConversationRequest{ParticipantIDs: []string{"bob"}}, &fromAlice))
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodPost, "/v1/conversations",
		createConversationRequest{ParticipantIDs: []string{"alice"}}, &fromBob))
	req.Equal(fromAlice.ID, fromBob.ID)
	base := "/v1/conversations/" + fromAlice.ID

	// When alice sends three messages
	var sent []messageResponse
	for _, content := range []string{"one", "two", "three"} {
		var message messageResponse
		req.Equal(http.StatusCreated, ts.call(t, "alice", http.MethodPost, base+"/messages",
			contentRequest{Content: content}, &message))
		sent = append(sent, message)
	}

	// Then bob has three unread messages and pages through them in order
	var unread map[string]int
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodGet, base+"/unread", nil, &unread))
	req.Equal(3, unread["unread"])

	var first, second pageResponse
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodGet, base+"/messages", nil, &first))
	req.Len(first.Messages, 2)
	req.NotNil(first.Cursor)
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodGet, base+"/messages?cursor="+*first.Cursor, nil, &second))
	req.Len(second.Messages, 1)
	req.Equal("three", second.Messages[0].Content)

	// When bob reads up to the second message
	var read map[string]int
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodPost, base+"/read",
		markReadRequest{MessageID: sent[1].ID}, &read))
	req.Equal(1, read["unread"])

	// Then carol can neither read nor write the conversation
	req.Equal(http.StatusForbidden, ts.call(t, "carol", http.MethodPost, base+"/messages",
		contentRequest{Content: "hi"}, nil))
	req.Equal(http.StatusForbidden, ts.call(t, "carol", http.MethodGet, base+"/messages", nil, nil))
	req.Equal(http.StatusBadRequest, ts.call(t, "alice", http.MethodPost, base+"/messages",
		contentRequest{Content: "   "}, nil))
	req.Equal(http.StatusBadRequest, ts.call(t, "alice", http.MethodGet, "/v1/conversations/nope/messages", nil, nil))
}

func TestServer_Reactions_Replace_Previous_One(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	var conversation conversationResponse
	req.Equal(http.StatusOK, ts.call(t, "alice", http.MethodPost, "/v1/conversations",
		createConversationRequest{ParticipantIDs: []string{"bob"}}, &conversation))
	var message messageResponse
	req.Equal(http.StatusCreated, ts.call(t, "alice", http.MethodPost,
		"/v1/conversations/"+conversation.ID+"/messages", contentRequest{Content: "hello"}, &message))
	path := "/v1/messages/" + message.ID + "/reactions"

	// Given bob reacts twice
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodPut, path, reactionRequest{Reaction: "heart"}, nil))
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodPut, path, reactionRequest{Reaction: "laugh"}, nil))

	// Then only the last reaction counts
	var counts struct {
		Counts   map[string]int `json:"counts"`
		Reaction *string        `json:"reaction"`
	}
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodGet, path, nil, &counts))
	req.Equal(map[string]int{"laugh": 1}, counts.Counts)
	req.Equal("laugh", *counts.Reaction)

	req.Equal(http.StatusBadRequest, ts.call(t, "bob", http.MethodPut, path, reactionRequest{Reaction: "meh"}, nil))
	req.Equal(http.StatusForbidden, ts.call(t, "carol", http.MethodGet, path, nil, nil))
}

func TestServer_Community_Flow(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	// Given alice is assigned from the edge country header and bob from the body
	var assigned communityResponse
	req.Equal(http.StatusOK, ts.call(t, "alice", http.MethodPost, "/v1/communities/auto-assign", nil, &assigned,
		countryHeader, "fr"))
	req.Equal("FR", assigned.CountryCode)
	var again communityResponse
	req.Equal(http.StatusOK, ts.call(t, "bob", http.MethodPost, "/v1/communities/auto-assign",
		autoAssignRequest{CountryCode: "FR"}, &again))
	req.Equal(assigned.ID, again.ID)
	req.Equal(http.StatusBadRequest, ts.call(t, "carol", http.MethodPost, "/v1/communities/auto-assign", nil, nil))

	var listed []communityResponse
	req.Equal(http.StatusOK, ts.call(t, "carol", http.MethodGet, "/v1/communities", nil, &listed))
	req.Len(listed, 1)
	req.Equal(2, listed[0].MemberCount)
	req.Equal("NONE", listed[0].Membership)

	// When alice posts then bob tries to edit her message
	var message messageResponse
	req.Equal(http.StatusCreated, ts.call(t, "alice", http.MethodPost, "/v1/communities/"+assigned.ID+"/messages",
		contentRequest{Content: "bonjour"}, &message))
	req.Equal(http.StatusForbidden, ts.call(t, "bob", http.MethodPatch, "/v1/community-messages/"+message.ID,
		contentRequest{Content: "hacked"}, nil))

	// Then only alice edits it, keeping its id and sequence
	var edited messageResponse
	req.Equal(http.StatusOK, ts.call(t, "alice", http.MethodPatch, "/v1/community-messages/"+message.ID,
		contentRequest{Content: "bonsoir"}, &edited))
	req.Equal(message.ID, edited.ID)
	req.Equal(message.Sequence, edited.Sequence)
	req.True(edited.Edited)

	// And carol is not a member until she joins
	req.Equal(http.StatusForbidden, ts.call(t, "carol", http.MethodGet,
		"/v1/communities/"+assigned.ID+"/messages", nil, nil))
	var membership membershipResponse
	req.Equal(http.StatusOK, ts.call(t, "carol", http.MethodPost, "/v1/communities/"+assigned.ID+"/join", nil, &membership))
	req.Equal("ACTIVE", membership.Status)

	req.Equal(http.StatusNoContent, ts.call(t, "alice", http.MethodDelete, "/v1/community-messages/"+message.ID, nil, nil))
	var page pageResponse
	req.Equal(http.StatusOK, ts.call(t, "carol", http.MethodGet, "/v1/communities/"+assigned.ID+"/messages", nil, &page))
	req.Empty(page.Messages)
}

func TestServer_Connections_And_Presence(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	var connections []connectionResponse
	req.Equal(http.StatusOK, ts.call(t, "alice", http.MethodGet, "/v1/connections", nil, &connections))
	req.ElementsMatch([]string{"bob", "carol"}, lo.Map(connections, func(c connectionResponse, _ int) string {
		return c.ID
	}))

	var presence presenceResponse
	req.Equal(http.StatusOK, ts.call(t, "alice", http.MethodGet, "/v1/users/bob/presence", nil, &presence))
	req.False(presence.Online)
}

func dial(t *testing.T, ts *testServer, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream?access_token=" + ts.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next skips frames until one of the wanted type, and of the given user when
// set, arrives.
func next(t *testing.T, conn *websocket.Conn, frameType string, userID ...string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] != frameType {
			continue
		}
		payload, _ := frame["payload"].(map[string]any)
		if len(userID) == 0 || payload["user_id"] == userID[0] {
			return frame
		}
	}
}

func TestServer_Stream_Delivers_Topic_Events(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	var conversation conversationResponse
	req.Equal(http.StatusOK, ts.call(t, "alice", http.MethodPost, "/v1/conversations",
		createConversationRequest{ParticipantIDs: []string{"bob"}}, &conversation))

	// Given bob's socket subscribed to the conversation
	conn := dial(t, ts, "bob")
	req.NoError(conn.WriteJSON(clientFrame{Action: "subscribe", Topic: conversation.Topic}))
	subscribed := next(t, conn, frameSubscribed)
	req.Equal(conversation.Topic, subscribed["topic"])

	// When alice opens her own socket then posts
	aliceConn := dial(t, ts, "alice")
	presence := next(t, conn, "presence", "alice")
	req.Equal(true, presence["payload"].(map[string]any)["online"])
	req.Equal(http.StatusCreated, ts.call(t, "alice", http.MethodPost,
		"/v1/conversations/"+conversation.ID+"/messages", contentRequest{Content: "ping"}, nil))

	// Then bob receives the message on the stream
	frame := next(t, conn, "message")
	req.Equal("ping", frame["payload"].(map[string]any)["content"])

	// And a typing signal from alice's socket reaches bob
	req.NoError(aliceConn.WriteJSON(clientFrame{Action: "typing", Topic: conversation.Topic, IsTyping: true}))
	typing := next(t, conn, "typing")
	req.Equal(true, typing["payload"].(map[string]any)["is_typing"])
}

func TestServer_Stream_Rejects_Foreign_Topics(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	var conversation conversationResponse
	req.Equal(http.StatusOK, ts.call(t, "alice", http.MethodPost, "/v1/conversations",
		createConversationRequest{ParticipantIDs: []string{"bob"}}, &conversation))

	conn := dial(t, ts, "carol")
	req.NoError(conn.WriteJSON(clientFrame{Action: "subscribe", Topic: conversation.Topic}))
	frame := next(t, conn, frameError)
	req.Equal(conversation.Topic, frame["topic"])

	req.NoError(conn.WriteJSON(clientFrame{Action: "dance", Topic: conversation.Topic}))
	next(t, conn, frameError)
}
