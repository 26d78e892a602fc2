package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ohtalk/server/internal/chat"
	"ohtalk/server/internal/handlers"
	"ohtalk/server/internal/models"
	"ohtalk/server/internal/routes"
	"ohtalk/server/internal/store/memory"
	"ohtalk/server/internal/utils"
	ws "ohtalk/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

type envelope struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testServer struct {
	app *fiber.App
	hub *ws.Hub
}

func newServer(t *testing.T, deps map[string]handlers.Pinger) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	for _, u := range []string{"A", "B", "C"} {
		st.PutUser(models.User{ID: u, Username: u})
	}
	hub := ws.NewHub(log)
	svc := chat.New(chat.Options{Store: st, Publisher: hub, Logger: log})
	router := ws.NewRouter(hub, svc.Rooms, svc.Messages, hub, log)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(log)})
	routes.SetupRoutes(context.Background(), app, handlers.New(svc, hub, router, deps, log), routes.Options{JWTSecret: secret})
	return &testServer{app: app, hub: hub}
}

func (s *testServer) do(t *testing.T, userID, method, target string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := utils.GenerateToken(secret, userID, userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (s *testServer) createGroup(t *testing.T) string {
	t.Helper()
	status, env := s.do(t, "A", http.MethodPost, "/api/chatrooms", map[string]any{
		"name": "Team", "type": "GROUP", "memberIds": []string{"B", "C"},
	})
	require.Equal(t, http.StatusCreated, status)
	return decode[models.RoomResponse](t, env.Data).ID
}

func TestRooms_Lifecycle(t *testing.T) {
	s := newServer(t, nil)

	status, env := s.do(t, "A", http.MethodPost, "/api/chatrooms", map[string]any{"type": "DIRECT", "memberIds": []string{"B"}})
	require.Equal(t, http.StatusCreated, status)
	require.True(t, env.Success)
	direct := decode[models.RoomResponse](t, env.Data)
	require.Equal(t, "A, B", *direct.Name)

	_, env = s.do(t, "B", http.MethodPost, "/api/chatrooms", map[string]any{"type": "DIRECT", "memberIds": []string{"A"}})
	require.Equal(t, direct.ID, decode[models.RoomResponse](t, env.Data).ID)

	roomID := s.createGroup(t)

	status, env = s.do(t, "B", http.MethodPatch, "/api/chatrooms/"+roomID+"?newName=Crew", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Crew", *decode[models.RoomResponse](t, env.Data).Name)

	status, _ = s.do(t, "C", http.MethodPut, "/api/chatrooms/"+roomID+"/members/me/notification?notificationEnabled=false", nil)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, "C", http.MethodGet, "/api/chatrooms", nil)
	require.Equal(t, http.StatusOK, status)
	rooms := decode[[]models.RoomSummary](t, env.Data)
	require.Len(t, rooms, 1)
	require.Equal(t, "Crew", *rooms[0].Name)
	require.False(t, rooms[0].NotificationEnabled)

	status, _ = s.do(t, "C", http.MethodDelete, "/api/chatrooms/"+roomID+"/members/me", nil)
	require.Equal(t, http.StatusNoContent, status)

	status, env = s.do(t, "A", http.MethodPost, "/api/chatrooms/"+roomID+"/members", map[string]any{"userIds": []string{"C"}})
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"addedUserIds":["C"]}`, string(env.Data))
}

func TestRooms_ErrorsUseEnvelope(t *testing.T) {
	s := newServer(t, nil)

	status, env := s.do(t, "A", http.MethodPost, "/api/chatrooms", map[string]any{"type": "GROUP", "memberIds": []string{"B"}})
	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, env.Success)
	require.Equal(t, http.StatusBadRequest, env.Status)
	require.NotEmpty(t, env.Message)

	status, env = s.do(t, "A", http.MethodPost, "/api/chatrooms", map[string]any{"type": "DIRECT", "memberIds": []string{"ghost"}})
	require.Equal(t, http.StatusNotFound, status)
	require.Contains(t, env.Message, "ghost")

	status, _ = s.do(t, "", http.MethodGet, "/api/chatrooms", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	roomID := s.createGroup(t)
	status, _ = s.do(t, "A", http.MethodPut, "/api/chatrooms/"+roomID+"/members/me/notification?notificationEnabled=maybe", nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestMessages_SendReadEditDelete(t *testing.T) {
	s := newServer(t, nil)
	roomID := s.createGroup(t)
	base := "/api/chat/chatrooms/" + roomID

	status, env := s.do(t, "A", http.MethodPost, base+"/messages", map[string]any{"content": "hi"})
	require.Equal(t, http.StatusCreated, status)
	sent := decode[models.MessageResponse](t, env.Data)
	require.Equal(t, 2, sent.UnreadCount)

	status, env = s.do(t, "B", http.MethodPost, base+"/read?messageId="+sent.ID, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, decode[chat.ReadResult](t, env.Data).UnreadCount)

	status, env = s.do(t, "C", http.MethodGet, base+"/messages?limit=10", nil)
	require.Equal(t, http.StatusOK, status)
	listed := decode[[]models.MessageResponse](t, env.Data)
	require.Len(t, listed, 1)
	require.Equal(t, 1, listed[0].UnreadCount)

	status, env = s.do(t, "A", http.MethodPatch, base+"/messages/"+sent.ID+"?newContent=hello", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, decode[models.MessageResponse](t, env.Data).IsEdited)

	status, _ = s.do(t, "B", http.MethodPatch, base+"/messages/"+sent.ID, map[string]string{"content": "mine"})
	require.Equal(t, http.StatusForbidden, status)

	status, env = s.do(t, "B", http.MethodGet, base+"/search?query=HELLO", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, decode[[]models.MessageResponse](t, env.Data), 1)

	status, _ = s.do(t, "A", http.MethodDelete, base+"/messages/"+sent.ID, nil)
	require.Equal(t, http.StatusNoContent, status)

	_, env = s.do(t, "B", http.MethodGet, base+"/messages", nil)
	listed = decode[[]models.MessageResponse](t, env.Data)
	require.True(t, listed[0].IsDeleted)
	require.Equal(t, models.DeletedPlaceholder, listed[0].Content)
}

func TestMessages_Paging(t *testing.T) {
	s := newServer(t, nil)
	roomID := s.createGroup(t)
	base := "/api/chat/chatrooms/" + roomID

	for _, content := range []string{"one", "two", "three"} {
		status, _ := s.do(t, "A", http.MethodPost, base+"/messages", map[string]any{"content": content})
		require.Equal(t, http.StatusCreated, status)
		time.Sleep(2 * time.Millisecond)
	}

	_, env := s.do(t, "B", http.MethodGet, base+"/messages?limit=2", nil)
	page := decode[[]models.MessageResponse](t, env.Data)
	require.Len(t, page, 2)
	require.Equal(t, "three", page[0].Content)

	cursor := page[1].CreatedAt.Format(time.RFC3339Nano)
	_, env = s.do(t, "B", http.MethodGet, base+"/messages?before="+cursor, nil)
	page = decode[[]models.MessageResponse](t, env.Data)
	require.Len(t, page, 1)
	require.Equal(t, "one", page[0].Content)

	status, _ := s.do(t, "B", http.MethodGet, base+"/messages?before=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, "B", http.MethodGet, "/api/chat/chatrooms/"+roomID+"/messages?limit=5", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestMessages_Forward(t *testing.T) {
	s := newServer(t, nil)
	source := s.createGroup(t)
	target := s.createGroup(t)

	_, env := s.do(t, "B", http.MethodPost, "/api/chat/chatrooms/"+source+"/messages", map[string]any{"content": "fwd me"})
	msg := decode[models.MessageResponse](t, env.Data)

	status, env := s.do(t, "A", http.MethodPost, "/api/chat/messages/forward?messageId="+msg.ID, map[string]any{"targetRoomIds": []string{target}})
	require.Equal(t, http.StatusOK, status)
	ids := decode[[]string](t, env.Data)
	require.Len(t, ids, 1)

	status, _ = s.do(t, "A", http.MethodPost, "/api/chat/messages/forward", map[string]any{"targetRoomIds": []string{target}})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestHealthAndStats(t *testing.T) {
	s := newServer(t, map[string]handlers.Pinger{"store": pinger{}})
	status, env := s.do(t, "", http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"store":"up"}`, string(env.Data))

	down := newServer(t, map[string]handlers.Pinger{"redis": pinger{err: errors.New("refused")}})
	status, _ = down.do(t, "", http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)

	status, env = s.do(t, "A", http.MethodGet, "/api/ws/stats", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ws.Stats{}, decode[ws.Stats](t, env.Data))

	status, _ = s.do(t, "A", http.MethodGet, "/ws", nil)
	require.Equal(t, http.StatusUpgradeRequired, status)
}

func TestRoutes_AuthCoversOnlyProtectedPrefixes(t *testing.T) {
	s := newServer(t, map[string]handlers.Pinger{"store": pinger{}})
	s.app.Get("/api/version", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "status": fiber.StatusOK})
	})

	for _, target := range []string{"/api/health", "/api/version"} {
		status, _ := s.do(t, "", http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, status, target)
	}
	for _, target := range []string{"/api/chatrooms", "/api/chat/chatrooms/r1/messages", "/api/ws/stats"} {
		status, env := s.do(t, "", http.MethodGet, target, nil)
		require.Equal(t, http.StatusUnauthorized, status, target)
		require.False(t, env.Success)
	}
}
