package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/gateway"
	"github.com/weiawesome/alumni-chat/internal/hub"
	"github.com/weiawesome/alumni-chat/internal/notify"
	"github.com/weiawesome/alumni-chat/internal/presence"
	"github.com/weiawesome/alumni-chat/internal/repository"
	"github.com/weiawesome/alumni-chat/internal/service"
	"github.com/weiawesome/alumni-chat/internal/store"
	"github.com/weiawesome/alumni-chat/internal/typing"
	"github.com/weiawesome/alumni-chat/pkg/database"
	pkgjwt "github.com/weiawesome/alumni-chat/pkg/jwt"
	"github.com/weiawesome/alumni-chat/pkg/middleware"
	"github.com/weiawesome/alumni-chat/pkg/pubsub"
	"github.com/weiawesome/alumni-chat/pkg/storage"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	router *gin.Engine
	server *httptest.Server
	jwt    *pkgjwt.Manager
	hub    *hub.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: ":memory:", LogLevel: "silent"})
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	if err := database.AutoMigrate(db, &domain.ConnectionModel{}, &domain.MembershipModel{}, &domain.MessageModel{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	mgr, err := pkgjwt.NewManager("handler-test-secret", "alumni-test", time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	files, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), URLPrefix: "/api/v1/files"})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	wsCfg := config.WebSocketConfig{
		PingInterval:   5 * time.Second,
		PongWait:       10 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 64 << 10,
		SendBuffer:     32,
	}

	bus := pubsub.NewMemoryPubSub()
	h := hub.NewHub(wsCfg)
	gw := gateway.New(h, mgr, bus, "test-instance", wsCfg)
	bridge := notify.NewBridge(gw, nil)
	conns := service.NewConnectionService(repository.NewGormConnectionRepository(db), nil, bridge, time.Minute)
	tracker := presence.NewTracker(store.NewMemoryPresenceStore(), conns, gw)
	h.SetObserver(tracker)
	typer := typing.NewTracker(gw, time.Second)
	t.Cleanup(typer.Close)
	chat := service.NewChatService(repository.NewGormMessageRepository(db), conns, tracker, typer, gw, nil, config.ChatConfig{})
	attachments := service.NewAttachmentService(files, 1<<20, time.Hour)

	go h.Run(ctx)
	go gw.Run(ctx)
	// Let the gateway subscribe before anything is published.
	time.Sleep(50 * time.Millisecond)

	r := gin.New()
	NewHandler(conns, chat, attachments, tracker, middleware.NewAuthMiddleware(mgr), 1<<20).RegisterRoutes(r)
	NewWSHandler(gw, chat, tracker, wsCfg).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{router: r, server: srv, jwt: mgr, hub: h}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := s.jwt.Issue(userID, userID+"@example.com", userID, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w.Code, env
}

func TestHTTPConnectionAndChatFlow(t *testing.T) {
	s := newTestServer(t)

	if code, _ := s.do(t, http.MethodGet, "/api/v1/connections", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d", code)
	}

	code, env := s.do(t, http.MethodPost, "/api/v1/connections/request", "alice", gin.H{"receiverId": "bob", "message": "hi"})
	if code != http.StatusCreated {
		t.Fatalf("propose = %d %+v", code, env.Error)
	}
	var conn domain.Connection
	json.Unmarshal(env.Data, &conn)

	code, env = s.do(t, http.MethodPost, "/api/v1/connections/request", "bob", gin.H{"receiverId": "alice"})
	if code != http.StatusBadRequest || env.Error == nil || env.Error.Code != domain.ErrCodeConflict {
		t.Fatalf("duplicate propose = %d %+v", code, env.Error)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/v1/chat/send", "alice", gin.H{"receiverId": "bob", "content": "early"}); code != http.StatusForbidden {
		t.Fatalf("send while pending = %d", code)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/connections/requests/received", "bob", nil)
	var received []domain.Connection
	json.Unmarshal(env.Data, &received)
	if code != http.StatusOK || len(received) != 1 || received[0].ID != conn.ID {
		t.Fatalf("received = %d %+v", code, received)
	}

	if code, _ := s.do(t, http.MethodPut, "/api/v1/connections/request/"+conn.ID+"/respond", "alice", gin.H{"status": "accepted"}); code != http.StatusForbidden {
		t.Fatalf("requester respond = %d", code)
	}
	if code, _ := s.do(t, http.MethodPut, "/api/v1/connections/request/missing/respond", "bob", gin.H{"status": "accepted"}); code != http.StatusNotFound {
		t.Fatalf("missing respond = %d", code)
	}
	if code, env := s.do(t, http.MethodPut, "/api/v1/connections/request/"+conn.ID+"/respond", "bob", gin.H{"status": "accepted"}); code != http.StatusOK {
		t.Fatalf("respond = %d %+v", code, env.Error)
	}
	if code, _ := s.do(t, http.MethodPut, "/api/v1/connections/request/"+conn.ID+"/respond", "bob", gin.H{"status": "rejected"}); code != http.StatusConflict {
		t.Fatalf("second respond = %d", code)
	}

	code, env = s.do(t, http.MethodPost, "/api/v1/chat/send", "alice", gin.H{"receiverId": "bob", "content": "hello bob"})
	if code != http.StatusCreated {
		t.Fatalf("send = %d %+v", code, env.Error)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/chat/unread-count", "bob", nil)
	if code != http.StatusOK || !strings.Contains(string(env.Data), `"count":1`) {
		t.Fatalf("unread = %d %s", code, env.Data)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/chat/conversations", "bob", nil)
	var list []domain.ConversationSummary
	json.Unmarshal(env.Data, &list)
	if code != http.StatusOK || len(list) != 1 || list[0].PeerID != "alice" || list[0].UnreadCount != 1 {
		t.Fatalf("conversations = %d %+v", code, list)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/chat/alice?page=1&limit=10", "bob", nil)
	var page domain.MessagePage
	json.Unmarshal(env.Data, &page)
	if code != http.StatusOK || page.Total != 1 || len(page.Messages) != 1 || !page.Messages[0].Read {
		t.Fatalf("conversation = %d %+v", code, page)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/chat/alice?page=x", "bob", nil); code != http.StatusBadRequest {
		t.Fatalf("bad page = %d", code)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/presence/alice", "bob", nil)
	if code != http.StatusOK || !strings.Contains(string(env.Data), `"online":false`) {
		t.Fatalf("presence = %d %s", code, env.Data)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/presence/alice", "carol", nil); code != http.StatusForbidden {
		t.Fatalf("stranger presence = %d", code)
	}

	if code, _ := s.do(t, http.MethodDelete, "/api/v1/connections/"+conn.ID, "carol", nil); code != http.StatusForbidden {
		t.Fatalf("stranger unlink = %d", code)
	}
	if code, _ := s.do(t, http.MethodDelete, "/api/v1/connections/"+conn.ID, "alice", nil); code != http.StatusNoContent {
		t.Fatalf("unlink = %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/chat/send", "alice", gin.H{"receiverId": "bob", "content": "after"}); code != http.StatusForbidden {
		t.Fatalf("send after unlink = %d", code)
	}
}

func wsURL(s *testServer, token string) string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token
}

func dial(t *testing.T, s *testServer, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(s, s.token(t, userID)), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readType reads frames until one of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if m["type"] == typ {
			return m
		}
	}
}

func TestWebSocketRejectsBadCredential(t *testing.T) {
	s := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(s, "garbage"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readType(t, conn, domain.MsgTypeAuthError)
	if msg["discardCredential"] != true || msg["code"] != domain.ErrCodeUnauthorized {
		t.Fatalf("auth_error = %+v", msg)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if s.hub.ClientCount() != 0 {
		t.Fatal("rejected connection was registered")
	}
}

func TestWebSocketMessaging(t *testing.T) {
	s := newTestServer(t)

	_, env := s.do(t, http.MethodPost, "/api/v1/connections/request", "alice", gin.H{"receiverId": "bob"})
	var conn domain.Connection
	json.Unmarshal(env.Data, &conn)
	if code, _ := s.do(t, http.MethodPut, "/api/v1/connections/request/"+conn.ID+"/respond", "bob", gin.H{"status": "accepted"}); code != http.StatusOK {
		t.Fatalf("respond = %d", code)
	}

	bob := dial(t, s, "bob")
	readType(t, bob, domain.MsgTypeOnlineUsers)

	alice := dial(t, s, "alice")
	snapshot := readType(t, alice, domain.MsgTypeOnlineUsers)
	if ids, _ := snapshot["userIds"].([]interface{}); len(ids) != 1 || ids[0] != "bob" {
		t.Fatalf("alice snapshot = %+v", snapshot)
	}
	status := readType(t, bob, domain.MsgTypeUserStatusChange)
	if status["userId"] != "alice" || status["status"] != domain.StatusOnline {
		t.Fatalf("status change = %+v", status)
	}

	alice.WriteJSON(gin.H{"type": "typing", "recipientId": "bob"})
	if typingMsg := readType(t, bob, domain.MsgTypeUserTyping); typingMsg["isTyping"] != true {
		t.Fatalf("typing = %+v", typingMsg)
	}

	alice.WriteJSON(gin.H{"type": "send_message", "recipientId": "bob", "content": "over the wire", "clientMessageId": "c-1"})
	ack := readType(t, alice, domain.MsgTypeMessageSent)
	if ack["clientMessageId"] != "c-1" {
		t.Fatalf("ack = %+v", ack)
	}
	incoming := readType(t, bob, domain.MsgTypeNewMessage)
	if m, _ := incoming["message"].(map[string]interface{}); m["content"] != "over the wire" || m["senderId"] != "alice" {
		t.Fatalf("new_message = %+v", incoming)
	}

	bob.WriteJSON(gin.H{"type": "mark_messages_read", "senderId": "alice"})
	if receipt := readType(t, alice, domain.MsgTypeMessagesRead); receipt["readBy"] != "bob" {
		t.Fatalf("receipt = %+v", receipt)
	}

	bob.WriteJSON(gin.H{"type": "send_message", "recipientId": "carol", "content": "hi"})
	if e := readType(t, bob, domain.MsgTypeError); e["code"] != domain.ErrCodeForbidden {
		t.Fatalf("send to stranger = %+v", e)
	}

	bob.WriteJSON(gin.H{"type": "ping"})
	readType(t, bob, domain.MsgTypePong)

	bob.WriteJSON(gin.H{"type": "join_chat", "otherUserId": "alice"})
	if joined := readType(t, bob, domain.MsgTypeChatJoined); joined["otherUserId"] != "alice" {
		t.Fatalf("join = %+v", joined)
	}

	alice.Close()
	if off := readType(t, bob, domain.MsgTypeUserStatusChange); off["status"] != domain.StatusOffline {
		t.Fatalf("offline = %+v", off)
	}
}

func TestCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := checkOrigin(nil)
	if !open(req("https://evil.example")) {
		t.Error("empty allow list should accept any origin")
	}

	strict := checkOrigin([]string{"https://alumni.example/"})
	if !strict(req("https://alumni.example")) || !strict(req("")) {
		t.Error("allowed origin refused")
	}
	if strict(req("https://evil.example")) {
		t.Error("foreign origin accepted")
	}
}
