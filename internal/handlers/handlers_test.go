package handlers

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
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/conference-signaling/config"
	"github.com/mossy-p/conference-signaling/internal/conference"
	"github.com/mossy-p/conference-signaling/internal/middleware"
	"github.com/mossy-p/conference-signaling/internal/models"
	"github.com/mossy-p/conference-signaling/internal/session/sessiontest"
)

const hostCandidate = "candidate:842163049 1 udp 1677729535 192.168.1.20 54400 typ host"

type testServer struct {
	factory *sessiontest.Factory
	coord   *conference.Coordinator
	router  *gin.Engine
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:    "test",
		AllowedOrigins: []string{"http://localhost:5173"},
		JWTSecret:      "test-secret",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	factory := &sessiontest.Factory{}
	coord := conference.New(conference.Options{
		Factory:           factory,
		Sink:              sessiontest.NewSink(),
		HeartbeatInterval: time.Hour,
		Logger:            zerolog.Nop(),
	})
	coord.Start(context.Background())
	t.Cleanup(coord.Shutdown)

	return &testServer{
		factory: factory,
		coord:   coord,
		router:  NewRouter(cfg, New(coord, zerolog.Nop())),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(t, http.MethodPost, "/request_connection/gm", nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "conference_sessions_created_total")
}

func TestGetState(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(t, http.MethodGet, "/chat_state", nil)

	require.Equal(t, http.StatusOK, w.Code)
	state := decode[models.StateSnapshot](t, w)
	require.Len(t, state.Streams, len(models.Slots))
	assert.True(t, state.Streams[models.SlotBoard].IsBoard)
	assert.Equal(t, models.StatusDisconnected, state.Streams[models.SlotPlayer1].Connected)
}

func TestConnectFlow(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(t, http.MethodPost, "/request_connection/gm", nil)
	require.Equal(t, http.StatusOK, w.Code)
	offer := decode[models.OfferResponse](t, w)
	assert.Equal(t, "offer", offer.OfferSDP.Type)
	assert.NotEmpty(t, offer.OfferSDP.SDP)

	state := decode[models.StateSnapshot](t, s.do(t, http.MethodGet, "/chat_state", nil))
	assert.Equal(t, models.StatusConnecting, state.Status(models.SlotGM))

	w = s.do(t, http.MethodPost, "/webrtc_answer/gm", models.SessionDescription{Type: "answer", SDP: "v=0\r\n"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", decode[models.StatusResponse](t, w).Status)
	require.NotNil(t, s.factory.Latest(models.SlotGM).Remote())

	w = s.do(t, http.MethodPost, "/ice_candidate/gm", models.CandidateRecord{Candidate: hostCandidate, SDPMid: "0"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", decode[models.StatusResponse](t, w).Status)
	assert.Len(t, s.factory.Latest(models.SlotGM).Candidates(), 1)

	s.factory.Latest(models.SlotGM).FireCandidate(hostCandidate, "0", 0)
	w = s.do(t, http.MethodGet, "/ice_candidates/gm", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.CandidatesResponse](t, w)
	assert.Equal(t, "success", list.Status)
	require.Len(t, list.Candidates, 1)
	assert.Equal(t, hostCandidate, list.Candidates[0].Candidate)
}

func TestInvalidSlot(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/request_connection/player_9"},
		{http.MethodPost, "/webrtc_answer/audience"},
	} {
		t.Run(tc.path, func(t *testing.T) {
			w := s.do(t, tc.method, tc.path, models.SessionDescription{Type: "answer", SDP: "x"})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid slot")
		})
	}
	assert.Empty(t, s.factory.Engines("player_9"))
}

func TestCandidates_UnknownSlot(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(t, http.MethodGet, "/ice_candidates/nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.CandidatesResponse](t, w)
	assert.Equal(t, "success", list.Status)
	assert.NotNil(t, list.Candidates)
	assert.Empty(t, list.Candidates)

	w = s.do(t, http.MethodPost, "/ice_candidate/nobody", models.CandidateRecord{Candidate: hostCandidate})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode[models.StatusResponse](t, w).Status)
}

func TestListCandidates_IdleSlot(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(t, http.MethodGet, "/ice_candidates/player_4", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","candidates":[]}`, w.Body.String())
}

func TestApplyAnswer_NoSession(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(t, http.MethodPost, "/webrtc_answer/player_3", models.SessionDescription{Type: "answer", SDP: "v=0\r\n"})

	assert.Equal(t, http.StatusConflict, w.Code)
	state := decode[models.StateSnapshot](t, s.do(t, http.MethodGet, "/chat_state", nil))
	assert.Equal(t, models.StatusDisconnected, state.Status(models.SlotPlayer3))
}

func TestApplyAnswer_InvalidBody(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(t, http.MethodPost, "/request_connection/gm", nil)

	w := s.do(t, http.MethodPost, "/webrtc_answer/gm", `{"type":"answer"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/webrtc_answer/gm", `{"type":"answer"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddCandidate_NoSessionIgnored(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(t, http.MethodPost, "/ice_candidate/player_2", models.CandidateRecord{Candidate: hostCandidate})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode[models.StatusResponse](t, w).Status)
}

func TestAddCandidate_MalformedAcknowledged(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(t, http.MethodPost, "/request_connection/player_2", nil)

	w := s.do(t, http.MethodPost, "/ice_candidate/player_2", models.CandidateRecord{Candidate: "candidate:garbage"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.factory.Latest(models.SlotPlayer2).Candidates())
	state := decode[models.StateSnapshot](t, s.do(t, http.MethodGet, "/chat_state", nil))
	assert.Equal(t, models.StatusConnecting, state.Status(models.SlotPlayer2))
}

func TestAddCandidate_InvalidBody(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(t, http.MethodPost, "/request_connection/player_2", nil)

	w := s.do(t, http.MethodPost, "/ice_candidate/player_2", `not json`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCloseConnection(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(t, http.MethodPost, "/request_connection/board", nil)

	for _, path := range []string{"/close_connection/board", "/close_connection/board", "/close_connection/unknown"} {
		w := s.do(t, http.MethodPost, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "success", decode[models.StatusResponse](t, w).Status)
	}

	assert.Equal(t, 1, s.factory.Latest(models.SlotBoard).Closed())
	state := decode[models.StateSnapshot](t, s.do(t, http.MethodGet, "/chat_state", nil))
	assert.Equal(t, models.StatusDisconnected, state.Status(models.SlotBoard))
}

func TestCloseAllConnections(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(t, http.MethodPost, "/request_connection/board", nil)
	s.do(t, http.MethodPost, "/request_connection/player_5", nil)

	w := s.do(t, http.MethodPost, "/close_all_connections", nil)
	require.Equal(t, http.StatusOK, w.Code)

	status := decode[models.DisplayStatus](t, s.do(t, http.MethodGet, "/display_status", nil))
	assert.Empty(t, status.ActiveConnections)
	for _, slot := range models.Slots {
		assert.Equal(t, models.StatusDisconnected, status.ConnectionStates[slot])
	}
}

func TestDisplayStatus(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(t, http.MethodPost, "/request_connection/player_1", nil)

	w := s.do(t, http.MethodGet, "/display_status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	status := decode[models.DisplayStatus](t, w)
	assert.Equal(t, []models.SlotName{models.SlotPlayer1}, status.ActiveConnections)
	assert.Equal(t, models.StatusConnecting, status.ConnectionStates[models.SlotPlayer1])
}

func TestOriginFilter(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/chat_state", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodOptions, "/request_connection/gm", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthRequired_GatesMutatingRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRequired = true
	s := newTestServer(t, cfg)

	w := s.do(t, http.MethodPost, "/request_connection/gm", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, s.factory.Engines(models.SlotGM))

	w = s.do(t, http.MethodGet, "/chat_state", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	token, err := middleware.IssueToken(cfg.JWTSecret, "operator", time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/request_connection/gm", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "operator", Password: "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[LoginResponse](t, w)
	assert.Equal(t, "operator", resp.UserID)
	assert.Equal(t, 2, strings.Count(resp.Token, "."))

	w = s.do(t, http.MethodPost, "/api/auth/login", `{"username":"operator"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
