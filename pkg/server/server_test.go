package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/townhall/pkg/model"
	"github.com/NicolasHaas/townhall/pkg/town"
)

type testEnvelope struct {
	IsOK     bool            `json:"isOK"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(DefaultConfig(), Dependencies{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return srv, ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, testEnvelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env testEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func createTown(t *testing.T, ts *httptest.Server, name string, public bool) TownCreateResponse {
	t.Helper()
	status, env := doJSON(t, ts, http.MethodPost, "/towns", TownCreateRequest{FriendlyName: name, IsPubliclyListed: public})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.IsOK)
	var created TownCreateResponse
	require.NoError(t, json.Unmarshal(env.Response, &created))
	return created
}

func listTowns(t *testing.T, ts *httptest.Server) []model.TownListing {
	t.Helper()
	status, env := doJSON(t, ts, http.MethodGet, "/towns", nil)
	require.Equal(t, http.StatusOK, status)
	var list TownListResponse
	require.NoError(t, json.Unmarshal(env.Response, &list))
	return list.Towns
}

// dialEvents opens the event stream and waits until the connection is
// registered as a listener on the town.
func dialEvents(t *testing.T, srv *Server, ts *httptest.Server, townID, query string) *websocket.Conn {
	t.Helper()
	c := srv.Towns().GetControllerForTown(townID)
	require.NotNil(t, c)
	before := c.ListenerCount()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/towns/" + townID + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return c.ListenerCount() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev WireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestCreateAndListTowns(t *testing.T) {
	_, ts := newTestServer(t)

	alpha := createTown(t, ts, "Alpha", true)
	createTown(t, ts, "Beta", false)

	require.NotEmpty(t, alpha.CoveyTownID)
	require.Len(t, alpha.CoveyTownPassword, 24)

	towns := listTowns(t, ts)
	require.Equal(t, []model.TownListing{{
		CoveyTownID:      alpha.CoveyTownID,
		FriendlyName:     "Alpha",
		CurrentOccupancy: 0,
		MaximumOccupancy: model.TownDefaultCapacity,
	}}, towns)
}

func TestListTownsEmpty(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, ts, http.MethodGet, "/towns", nil)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"towns":[]}`, string(env.Response))
}

func TestCreateTownRequiresName(t *testing.T) {
	_, ts := newTestServer(t)

	for _, name := range []string{"", "   "} {
		status, env := doJSON(t, ts, http.MethodPost, "/towns", TownCreateRequest{FriendlyName: name})
		require.Equal(t, http.StatusBadRequest, status)
		require.False(t, env.IsOK)
		require.Equal(t, msgNameRequired, env.Message)
	}
}

func TestCreateTownInvalidJSON(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/towns", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateTown(t *testing.T) {
	_, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)
	path := "/towns/" + created.CoveyTownID

	status, env := doJSON(t, ts, http.MethodPatch, path, TownUpdateRequest{CoveyTownPassword: "wrong", FriendlyName: ptr("Nope")})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, msgInvalidUpdate, env.Message)

	status, env = doJSON(t, ts, http.MethodPatch, path, TownUpdateRequest{CoveyTownPassword: created.CoveyTownPassword, FriendlyName: ptr("")})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, msgInvalidUpdate, env.Message)

	status, env = doJSON(t, ts, http.MethodPatch, path, TownUpdateRequest{CoveyTownPassword: created.CoveyTownPassword, FriendlyName: ptr("Renamed")})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.IsOK)
	require.Equal(t, "Renamed", listTowns(t, ts)[0].FriendlyName)

	status, _ = doJSON(t, ts, http.MethodPatch, path, TownUpdateRequest{CoveyTownPassword: created.CoveyTownPassword, IsPubliclyListed: ptr(false)})
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, listTowns(t, ts))
}

func TestUpdateTownMissingPassword(t *testing.T) {
	_, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)

	status, env := doJSON(t, ts, http.MethodPatch, "/towns/"+created.CoveyTownID, TownUpdateRequest{FriendlyName: ptr("x")})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid field CoveyTownPassword", env.Message)
}

func TestDeleteTown(t *testing.T) {
	srv, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)

	status, env := doJSON(t, ts, http.MethodDelete, "/towns/"+created.CoveyTownID+"/wrong", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, msgInvalidPassword, env.Message)

	status, env = doJSON(t, ts, http.MethodDelete, "/towns/"+created.CoveyTownID+"/"+created.CoveyTownPassword, nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.IsOK)
	require.Empty(t, listTowns(t, ts))
	require.Nil(t, srv.Towns().GetControllerForTown(created.CoveyTownID))

	status, _ = doJSON(t, ts, http.MethodDelete, "/towns/"+created.CoveyTownID+"/"+created.CoveyTownPassword, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestMessageRoutesNotificationStub(t *testing.T) {
	srv, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)
	conn := dialEvents(t, srv, ts, created.CoveyTownID, "")

	status, env := doJSON(t, ts, http.MethodPost, "/towns/"+created.CoveyTownID+"/messages", model.MessageRequest{
		SenderName: "Alice",
		SenderID:   "p1",
		ReceiverID: "p2",
		Content:    "the secret plan",
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.IsOK)

	ev := readEvent(t, conn)
	require.Equal(t, EventMessageNotify, ev.Type)
	require.Equal(t, &model.NotificationRequest{
		CoveyTownID: created.CoveyTownID,
		Content:     "Alice sent you a private message",
		ReceiverID:  "p2",
	}, ev.Notification)

	status, env = doJSON(t, ts, http.MethodGet, "/towns/"+created.CoveyTownID+"/notifications", nil)
	require.Equal(t, http.StatusOK, status)
	var notes NotificationsResponse
	require.NoError(t, json.Unmarshal(env.Response, &notes))
	require.Len(t, notes.Notifications, 1)
	require.Equal(t, "Alice sent you a private message", notes.Notifications[0].Content)
	require.Equal(t, "p2", notes.Notifications[0].ReceiverID)
	require.NotContains(t, string(env.Response), "secret plan")

	require.EqualValues(t, 1, srv.Metrics().NotificationsRouted.Load())
}

func TestMessageRejections(t *testing.T) {
	srv, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)
	msg := model.MessageRequest{SenderName: "Alice", SenderID: "p1", ReceiverID: model.Everyone}

	msg.RoomID = "other-town"
	status, _ := doJSON(t, ts, http.MethodPost, "/towns/"+created.CoveyTownID+"/messages", msg)
	require.Equal(t, http.StatusBadRequest, status)

	msg.RoomID = ""
	status, env := doJSON(t, ts, http.MethodPost, "/towns/unknown/messages", msg)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, msgUnknownTown, env.Message)
	require.EqualValues(t, 1, srv.Metrics().NotificationsRejected.Load())

	status, env = doJSON(t, ts, http.MethodPost, "/towns/"+created.CoveyTownID+"/messages", model.MessageRequest{SenderName: "Alice"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid field SenderID", env.Message)
}

func TestAnnouncement(t *testing.T) {
	srv, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)
	conn := dialEvents(t, srv, ts, created.CoveyTownID, "")
	path := "/towns/" + created.CoveyTownID + "/announcements"

	status, env := doJSON(t, ts, http.MethodPost, path, AnnouncementRequest{CoveyTownPassword: "wrong", Content: "hi"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, msgInvalidPassword, env.Message)

	status, _ = doJSON(t, ts, http.MethodPost, path, AnnouncementRequest{CoveyTownPassword: created.CoveyTownPassword, Content: "Server restarts at noon"})
	require.Equal(t, http.StatusOK, status)

	ev := readEvent(t, conn)
	require.Equal(t, EventMessageNotify, ev.Type)
	require.Equal(t, "Server restarts at noon", ev.Notification.Content)
	require.True(t, ev.Notification.IsPublic())
	require.EqualValues(t, 1, srv.Metrics().Announcements.Load())
	require.EqualValues(t, 1, srv.Metrics().AuthFailures.Load())
}

func TestAnnouncementContentValidation(t *testing.T) {
	srv, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)
	path := "/towns/" + created.CoveyTownID + "/announcements"

	tcases := map[string]struct {
		content string
		message string
	}{
		"empty":      {content: "", message: model.ErrContentEmpty.Error()},
		"whitespace": {content: "   ", message: model.ErrContentEmpty.Error()},
		"too long":   {content: strings.Repeat("x", model.MaxNotificationContentLength+1), message: model.ErrContentTooLong.Error()},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			status, env := doJSON(t, ts, http.MethodPost, path, AnnouncementRequest{CoveyTownPassword: created.CoveyTownPassword, Content: tc.content})
			require.Equal(t, http.StatusBadRequest, status)
			require.Equal(t, tc.message, env.Message)
		})
	}

	// Multi-byte runes count once each.
	status, _ := doJSON(t, ts, http.MethodPost, path, AnnouncementRequest{
		CoveyTownPassword: created.CoveyTownPassword,
		Content:           strings.Repeat("é", model.MaxNotificationContentLength),
	})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, srv.Metrics().Announcements.Load())
}

func TestNotificationsQuery(t *testing.T) {
	_, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)
	path := "/towns/" + created.CoveyTownID + "/notifications"

	tcases := map[string]struct {
		path   string
		status int
	}{
		"default limit":  {path: path, status: http.StatusOK},
		"explicit limit": {path: path + "?limit=5", status: http.StatusOK},
		"zero limit":     {path: path + "?limit=0", status: http.StatusBadRequest},
		"too large":      {path: path + "?limit=101", status: http.StatusBadRequest},
		"not a number":   {path: path + "?limit=abc", status: http.StatusBadRequest},
		"unknown town":   {path: "/towns/unknown/notifications", status: http.StatusBadRequest},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			status, env := doJSON(t, ts, http.MethodGet, tc.path, nil)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.status == http.StatusOK, env.IsOK)
		})
	}

	_, env := doJSON(t, ts, http.MethodGet, path, nil)
	require.JSONEq(t, `{"notifications":[]}`, string(env.Response))
}

func TestEventsUnknownTown(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, ts, http.MethodGet, "/towns/unknown/events", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, msgUnknownTown, env.Message)
}

func TestEventsCloseOnDelete(t *testing.T) {
	srv, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)
	conn := dialEvents(t, srv, ts, created.CoveyTownID, "")

	status, _ := doJSON(t, ts, http.MethodDelete, "/towns/"+created.CoveyTownID+"/"+created.CoveyTownPassword, nil)
	require.Equal(t, http.StatusOK, status)

	ev := readEvent(t, conn)
	require.Equal(t, EventTownClosing, ev.Type)

	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestEventsRoster(t *testing.T) {
	srv, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)
	c := srv.Towns().GetControllerForTown(created.CoveyTownID)

	conn := dialEvents(t, srv, ts, created.CoveyTownID, "?userName=alice")

	joined := readEvent(t, conn)
	require.Equal(t, EventPlayerJoined, joined.Type)
	require.Equal(t, "alice", joined.Player.UserName)
	require.Equal(t, 1, c.Occupancy())
	require.Equal(t, 1, listTowns(t, ts)[0].CurrentOccupancy)

	loc := model.Location{X: 3, Y: 4, Rotation: "front", Moving: true}
	require.NoError(t, conn.WriteJSON(InboundFrame{Type: InboundPlayerMovement, Location: loc}))

	moved := readEvent(t, conn)
	require.Equal(t, EventPlayerMoved, moved.Type)
	require.Equal(t, joined.Player.ID, moved.Player.ID)
	require.Equal(t, loc, moved.Player.Location)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return c.Occupancy() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Metrics().ActiveConnections.Load() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestAttachClientToDeletedTown(t *testing.T) {
	srv, _ := newTestServer(t)
	c := srv.Towns().CreateTown("Alpha", true)
	require.True(t, srv.Towns().DeleteTown(c.ID(), c.UpdatePassword()))

	client := &wsClient{
		town:    c,
		metrics: srv.Metrics(),
		log:     srv.log,
		send:    make(chan []byte, sendBufferSize),
	}
	require.False(t, srv.attachClient(c, client, "alice"))
	require.Equal(t, 0, c.Occupancy())

	var ev WireEvent
	require.NoError(t, json.Unmarshal(<-client.send, &ev))
	require.Equal(t, EventTownClosing, ev.Type)
	_, open := <-client.send
	require.False(t, open)
}

func TestAttachClientToLiveTown(t *testing.T) {
	srv, _ := newTestServer(t)
	c := srv.Towns().CreateTown("Alpha", true)

	client := &wsClient{
		town:    c,
		metrics: srv.Metrics(),
		log:     srv.log,
		send:    make(chan []byte, sendBufferSize),
	}
	require.True(t, srv.attachClient(c, client, "alice"))
	require.Equal(t, 1, c.Occupancy())
	require.NotEmpty(t, client.playerID)

	var ev WireEvent
	require.NoError(t, json.Unmarshal(<-client.send, &ev))
	require.Equal(t, EventPlayerJoined, ev.Type)
}

func TestEventsInvalidUserName(t *testing.T) {
	_, ts := newTestServer(t)
	created := createTown(t, ts, "Alpha", true)

	status, env := doJSON(t, ts, http.MethodGet, "/towns/"+created.CoveyTownID+"/events?userName=%20", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, model.ErrUserNameEmpty.Error(), env.Message)
}

func TestMetricsHandler(t *testing.T) {
	srv, ts := newTestServer(t)
	createTown(t, ts, "Alpha", true)

	handler, err := srv.MetricsHandler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "townhall_towns_created_total 1")
	require.Contains(t, body, "townhall_towns_live 1")
	require.Contains(t, body, "townhall_connections_active 0")
	require.Contains(t, body, `townhall_build_info{commit="unknown",date="unknown",version="dev"} 1`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.EqualValues(t, 1, snap.TownsCreated)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Body.String(), "ok "))
}

func TestServerUsesProvidedStore(t *testing.T) {
	metrics := NewMetrics()
	st := town.NewStore(town.Options{Capacity: 7, Observer: metrics})
	srv := New(DefaultConfig(), Dependencies{Towns: st, Metrics: metrics})
	t.Cleanup(srv.Shutdown)

	require.Same(t, st, srv.Towns())
	c := st.CreateTown("Alpha", true)
	require.Equal(t, 7, c.Capacity())
	require.EqualValues(t, 1, srv.Metrics().TownsCreated.Load())
}

func ptr[T any](v T) *T {
	return &v
}
