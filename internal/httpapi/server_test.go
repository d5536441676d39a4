package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/corridor-matching/internal/auth"
	"github.com/example/corridor-matching/internal/config"
	"github.com/example/corridor-matching/internal/engine"
	"github.com/example/corridor-matching/internal/geo"
	"github.com/example/corridor-matching/internal/match"
	"github.com/example/corridor-matching/internal/models"
	"github.com/example/corridor-matching/internal/presence"
	"github.com/example/corridor-matching/internal/session"
)

const testSecret = "test-secret"

func newTestServer() (*Server, *presence.Store) {
	cfg := config.ServerConfig{
		WaitingTTL:       15 * time.Minute,
		NearbyRadiusM:    5000,
		NearbyLimit:      20,
		WaitingListLimit: 50,
		SeatCapacity:     4,
		BroadcastBuffer:  8,
	}
	idx := geo.NewIndex()
	store := presence.NewStore(idx, cfg.SeatCapacity)
	reg := session.NewRegistry()
	verifier := auth.NewJWTVerifier(testSecret)
	eng := &engine.Engine{Store: store, Registry: reg, Verifier: verifier, WaitingTTL: cfg.WaitingTTL, BroadcastBuffer: cfg.BroadcastBuffer}
	return NewServer(cfg, nil, store, match.NewService(store, idx), reg, eng, verifier), store
}

func token(t *testing.T, userID, username string, role models.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, auth.Identity{UserID: userID, Username: username, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func doJSON(s *Server, method, path, tok string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestDriverStatusCreateThenUpdate(t *testing.T) {
	s, store := newTestServer()
	tok := token(t, "d1", "carlos", models.RoleDriver)

	rr := doJSON(s, "PUT", "/api/v1/drivers/status", tok, map[string]any{"latitude": -33.45, "longitude": -70.65, "availableSeats": 3})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	st, _ := store.Get("d1")
	if st.Seats != 3 || !st.Active {
		t.Fatalf("unexpected state: %+v", st)
	}

	rr = doJSON(s, "PUT", "/api/v1/drivers/status", tok, map[string]any{"latitude": -33.46, "longitude": -70.66, "availableSeats": 0})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	st, _ = store.Get("d1")
	if st.Active {
		t.Fatal("zero seats should deactivate")
	}
}

func TestDriverStatusValidation(t *testing.T) {
	s, store := newTestServer()
	tok := token(t, "d1", "carlos", models.RoleDriver)

	rr := doJSON(s, "PUT", "/api/v1/drivers/status", tok, map[string]any{"latitude": 95.0, "longitude": 0.0, "availableSeats": 2})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad latitude, got %d", rr.Code)
	}
	if _, ok := store.Get("d1"); ok {
		t.Fatal("rejected request mutated state")
	}

	rr = doJSON(s, "PUT", "/api/v1/drivers/status", tok, map[string]any{"latitude": 0.0, "longitude": 0.0, "availableSeats": 9})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad seats, got %d", rr.Code)
	}
	rr = doJSON(s, "PUT", "/api/v1/drivers/status", tok, map[string]any{"latitude": 0.0, "longitude": 0.0})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing seats, got %d", rr.Code)
	}
}

func TestAuthAndRoleEnforcement(t *testing.T) {
	s, _ := newTestServer()

	rr := doJSON(s, "PUT", "/api/v1/drivers/status", "", map[string]any{"latitude": 0.0, "longitude": 0.0, "availableSeats": 1})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	ptok := token(t, "p1", "ana", models.RolePassenger)
	rr = doJSON(s, "PUT", "/api/v1/drivers/status", ptok, map[string]any{"latitude": 0.0, "longitude": 0.0, "availableSeats": 1})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestWaitingAndNearbyFlow(t *testing.T) {
	s, _ := newTestServer()
	ptok := token(t, "p1", "ana", models.RolePassenger)
	dtok := token(t, "d1", "carlos", models.RoleDriver)

	rr := doJSON(s, "POST", "/api/v1/passengers/waiting", ptok, map[string]any{"latitude": -33.4505, "longitude": -70.6505})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Passenger entityResponse `json:"passenger"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &created)
	if !created.Passenger.IsWaiting || created.Passenger.ExpiresAt.IsZero() {
		t.Fatalf("unexpected passenger: %+v", created.Passenger)
	}

	rr = doJSON(s, "GET", "/api/v1/drivers/nearby?latitude=-33.45&longitude=-70.65&maxDistance=1000", dtok, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var nearby struct {
		Count      int              `json:"count"`
		Passengers []entityResponse `json:"passengers"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &nearby)
	if nearby.Count != 1 || nearby.Passengers[0].ID != "p1" {
		t.Fatalf("unexpected nearby result: %s", rr.Body.String())
	}
	if nearby.Passengers[0].DistanceMeters <= 0 || nearby.Passengers[0].DistanceMeters > 200 {
		t.Fatalf("unexpected distance: %f", nearby.Passengers[0].DistanceMeters)
	}

	rr = doJSON(s, "GET", "/api/v1/passengers/waiting", dtok, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = doJSON(s, "DELETE", "/api/v1/passengers/waiting", ptok, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = doJSON(s, "DELETE", "/api/v1/passengers/waiting", ptok, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestNearbyRejectsInvalidCoordinates(t *testing.T) {
	s, _ := newTestServer()
	dtok := token(t, "d1", "carlos", models.RoleDriver)

	for _, q := range []string{
		"latitude=95&longitude=0",
		"latitude=abc&longitude=0",
		"longitude=0",
	} {
		rr := doJSON(s, "GET", "/api/v1/drivers/nearby?"+q, dtok, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", q, rr.Code)
		}
	}
}

func TestWebSocketHandshakeRejectsBadToken(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake refusal, got %+v", resp)
	}
}

func TestWebSocketLiveFlow(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token="

	pconn, _, err := websocket.DefaultDialer.Dial(base+token(t, "p1", "ana", models.RolePassenger), nil)
	if err != nil {
		t.Fatalf("passenger dial: %v", err)
	}
	defer pconn.Close()

	dconn, _, err := websocket.DefaultDialer.Dial(base+token(t, "d1", "carlos", models.RoleDriver), nil)
	if err != nil {
		t.Fatalf("driver dial: %v", err)
	}
	defer dconn.Close()

	// both sessions attached before the first update goes out
	deadline := time.Now().Add(2 * time.Second)
	for s.Registry.GroupSize(models.GroupPassengers) != 1 || s.Registry.GroupSize(models.GroupDrivers) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("sessions did not attach in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	seats := 4
	payload, _ := json.Marshal(models.LocationUpdatePayload{Latitude: -33.45, Longitude: -70.65, AvailableSeats: &seats})
	if err := dconn.WriteJSON(models.Frame{Event: models.EventDriverLocation, Data: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = dconn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack models.Frame
	if err := dconn.ReadJSON(&ack); err != nil {
		t.Fatalf("ack read: %v", err)
	}
	if ack.Event != models.AckEvent(models.EventDriverLocation) {
		t.Fatalf("expected ack, got %+v", ack)
	}

	_ = pconn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Frame
	if err := pconn.ReadJSON(&ev); err != nil {
		t.Fatalf("broadcast read: %v", err)
	}
	if ev.Event != models.EventDriverUpdated {
		t.Fatalf("expected driver:location-updated, got %+v", ev)
	}
	var data models.DriverUpdatedPayload
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if data.DriverID != "d1" || data.AvailableSeats != 4 {
		t.Fatalf("unexpected payload: %+v", data)
	}
}
