package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/adapters/memory"
	redisadapter "github.com/robertarktes/event-booking/internal/adapters/redis"
	"github.com/robertarktes/event-booking/internal/auth"
	"github.com/robertarktes/event-booking/internal/booking"
	"github.com/robertarktes/event-booking/internal/config"
	"github.com/robertarktes/event-booking/internal/domain"
	apihttp "github.com/robertarktes/event-booking/internal/http"
	"github.com/robertarktes/event-booking/internal/idempotency"
	"github.com/robertarktes/event-booking/internal/lifecycle"
	"github.com/robertarktes/event-booking/internal/media"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/robertarktes/event-booking/internal/rateLimit"
	"github.com/robertarktes/event-booking/internal/recommend"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memIdemp struct {
	mu      sync.Mutex
	records map[string]redisadapter.IdempResponse
	locks   map[string]bool
}

func (m *memIdemp) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memIdemp) Set(_ context.Context, key string, resp redisadapter.IdempResponse, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = resp
	return nil
}

func (m *memIdemp) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memIdemp) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

type memCounter struct {
	mu sync.Mutex
	n  map[string]int64
}

func (c *memCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[key]++
	return c.n[key], nil
}

type api struct {
	t      *testing.T
	server *httptest.Server
	store  *memory.Store
}

func newAPI(t *testing.T, cfg *config.Config) *api {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{RateLimitWindow: time.Minute, RecommendLimit: 5, MaxImageBytes: 1 << 20}
	}
	log := observability.NewNopLogger()
	store := memory.New()
	images, err := media.NewStore(t.TempDir(), cfg.MaxImageBytes, time.Second)
	require.NoError(t, err)

	authSvc := auth.NewService(store, auth.NewTokens("test-secret", time.Hour), bcrypt.MinCost, log)
	h := apihttp.NewHandlers(cfg,
		booking.NewService(store, log),
		lifecycle.NewService(store, images, log),
		authSvc,
		recommend.New(store, nil, 0, log),
		map[string]apihttp.Check{"db": func(context.Context) error { return nil }},
		log,
	)
	idemp := idempotency.NewIdempotency(&memIdemp{records: map[string]redisadapter.IdempResponse{}, locks: map[string]bool{}}, time.Hour)
	rl := rateLimit.NewRateLimiter(&memCounter{n: map[string]int64{}})

	srv := httptest.NewServer(apihttp.SetupRouter(h, log, rl, idemp, images.Dir()))
	t.Cleanup(srv.Close)
	return &api{t: t, server: srv, store: store}
}

func (a *api) do(method, path, token string, body any, headers ...string) (*http.Response, map[string]any) {
	a.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rdr)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return a.send(req)
}

func (a *api) send(req *http.Request) (*http.Response, map[string]any) {
	a.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (a *api) signup(email string, role domain.Role) string {
	a.t.Helper()
	resp, _ := a.do(http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email": email, "password": "correct-horse", "full_name": "Test User", "role": role,
		"interests": []string{"music"},
	})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)

	resp, body := a.do(http.MethodPost, "/v1/auth/login", "", map[string]any{"email": email, "password": "correct-horse"})
	require.Equal(a.t, http.StatusOK, resp.StatusCode)
	return body["access_token"].(string)
}

func (a *api) publishEvent(token string, seats int) string {
	a.t.Helper()
	resp, body := a.do(http.MethodPost, "/v1/events", token, map[string]any{
		"title": "Jazz Night", "description": "live music downtown", "location": "Main Hall",
		"starts_at":   time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"total_seats": seats, "price_cents": 2500, "category": "CONCERT", "status": "PUBLISHED",
	})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode, body)
	return body["id"].(string)
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestBookingFlow(t *testing.T) {
	a := newAPI(t, nil)
	org := a.signup("org@example.com", domain.RoleOrganizer)
	user := a.signup("user@example.com", domain.RoleAttendee)
	eventID := a.publishEvent(org, 10)

	resp, body := a.do(http.MethodPost, "/v1/bookings", user, map[string]any{"event_id": eventID, "number_of_seats": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	bookingID := body["id"].(string)

	resp, body = a.do(http.MethodGet, "/v1/events/"+eventID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 7, body["available_seats"])

	resp, body = a.do(http.MethodPost, "/v1/bookings", user, map[string]any{"event_id": eventID, "number_of_seats": 8})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "capacity_exceeded", errorCode(body))

	resp, body = a.do(http.MethodPost, "/v1/bookings/"+bookingID+"/cancel", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(domain.BookingCancelledByUser), body["status"])

	resp, body = a.do(http.MethodGet, "/v1/events/"+eventID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 10, body["available_seats"])

	resp, body = a.do(http.MethodGet, "/v1/bookings/mine", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["items"], 1)
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t, nil)
	org := a.signup("org@example.com", domain.RoleOrganizer)
	user := a.signup("user@example.com", domain.RoleAttendee)
	other := a.signup("other@example.com", domain.RoleAttendee)
	eventID := a.publishEvent(org, 5)

	resp, body := a.do(http.MethodPost, "/v1/bookings", user, map[string]any{"event_id": eventID, "number_of_seats": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bookingID := body["id"].(string)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"missing token", http.MethodPost, "/v1/bookings", "", map[string]any{"event_id": eventID, "number_of_seats": 1}, http.StatusUnauthorized, "unauthorized"},
		{"garbage token", http.MethodGet, "/v1/me", "not-a-jwt", nil, http.StatusUnauthorized, "unauthorized"},
		{"attendee creates event", http.MethodPost, "/v1/events", user, map[string]any{"title": "x"}, http.StatusForbidden, "forbidden"},
		{"unknown event", http.MethodGet, "/v1/events/" + uuid.NewString(), "", nil, http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/v1/events/abc", "", nil, http.StatusBadRequest, "invalid_input"},
		{"zero seats", http.MethodPost, "/v1/bookings", user, map[string]any{"event_id": eventID, "number_of_seats": 0}, http.StatusBadRequest, "invalid_input"},
		{"unknown field", http.MethodPost, "/v1/bookings", user, map[string]any{"event_id": eventID, "seats": 1}, http.StatusBadRequest, "invalid_input"},
		{"foreign booking", http.MethodPost, "/v1/bookings/" + bookingID + "/cancel", other, nil, http.StatusForbidden, "forbidden"},
		{"bad sort", http.MethodGet, "/v1/events?sort=popularity", "", nil, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := a.do(tt.method, tt.path, tt.token, tt.body)
			require.Equal(t, tt.status, resp.StatusCode, body)
			require.Equal(t, tt.code, errorCode(body))
		})
	}

	resp, _ = a.do(http.MethodPost, "/v1/bookings/"+bookingID+"/cancel", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = a.do(http.MethodPost, "/v1/bookings/"+bookingID+"/cancel", user, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "invalid_state", errorCode(body))
}

func TestIdempotentBookingReplay(t *testing.T) {
	a := newAPI(t, nil)
	org := a.signup("org@example.com", domain.RoleOrganizer)
	user := a.signup("user@example.com", domain.RoleAttendee)
	eventID := a.publishEvent(org, 10)
	req := map[string]any{"event_id": eventID, "number_of_seats": 2}

	first, body1 := a.do(http.MethodPost, "/v1/bookings", user, req, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.StatusCode)
	second, body2 := a.do(http.MethodPost, "/v1/bookings", user, req, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, second.StatusCode)
	require.Equal(t, "true", second.Header.Get("Idempotent-Replay"))
	require.Equal(t, body1["id"], body2["id"])

	_, event := a.do(http.MethodGet, "/v1/events/"+eventID, "", nil)
	require.EqualValues(t, 8, event["available_seats"])

	third, _ := a.do(http.MethodPost, "/v1/bookings", user, req, "Idempotency-Key", "k-2")
	require.Equal(t, http.StatusCreated, third.StatusCode)
	_, event = a.do(http.MethodGet, "/v1/events/"+eventID, "", nil)
	require.EqualValues(t, 6, event["available_seats"])
}

func TestOrganizerLifecycle(t *testing.T) {
	a := newAPI(t, nil)
	org := a.signup("org@example.com", domain.RoleOrganizer)
	rival := a.signup("rival@example.com", domain.RoleOrganizer)
	user := a.signup("user@example.com", domain.RoleAttendee)
	eventID := a.publishEvent(org, 4)

	resp, _ := a.do(http.MethodPost, "/v1/bookings", user, map[string]any{"event_id": eventID, "number_of_seats": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := a.do(http.MethodPut, "/v1/events/"+eventID, org, map[string]any{"total_seats": 2})
	require.Equal(t, http.StatusConflict, resp.StatusCode, body)
	require.Equal(t, "invalid_state", errorCode(body))

	resp, _ = a.do(http.MethodPut, "/v1/events/"+eventID, rival, map[string]any{"title": "Mine now"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = a.do(http.MethodPut, "/v1/events/"+eventID, org, map[string]any{"total_seats": 6})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.EqualValues(t, 3, body["available_seats"])

	resp, body = a.do(http.MethodGet, "/v1/organizer/stats", org, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 3, body["tickets_sold"])
	require.EqualValues(t, 7500, body["total_revenue_cents"])

	resp, body = a.do(http.MethodPost, "/v1/events/"+eventID+"/cancel", org, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(domain.EventCancelled), body["status"])

	resp, body = a.do(http.MethodGet, "/v1/bookings/mine", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Equal(t, string(domain.BookingCancelledByOrganizer), items[0].(map[string]any)["status"])

	resp, body = a.do(http.MethodDelete, "/v1/events/"+eventID, org, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "invalid_state", errorCode(body))
}

func TestDraftsAreHidden(t *testing.T) {
	a := newAPI(t, nil)
	org := a.signup("org@example.com", domain.RoleOrganizer)
	user := a.signup("user@example.com", domain.RoleAttendee)

	resp, body := a.do(http.MethodPost, "/v1/events", org, map[string]any{
		"title": "Draft", "starts_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339), "total_seats": 5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	require.Equal(t, string(domain.EventDraft), body["status"])
	draftID := body["id"].(string)

	resp, _ = a.do(http.MethodGet, "/v1/events/"+draftID, user, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = a.do(http.MethodGet, "/v1/events/"+draftID, org, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = a.do(http.MethodGet, "/v1/events?status=DRAFT,PUBLISHED", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 0, body["total"])

	resp, body = a.do(http.MethodGet, "/v1/organizer/events", org, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["total"])

	resp, _ = a.do(http.MethodDelete, "/v1/events/"+draftID, org, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCreateEventMultipart(t *testing.T) {
	a := newAPI(t, nil)
	org := a.signup("org@example.com", domain.RoleOrganizer)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"title":       "Poster Show",
		"starts_at":   time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"total_seats": "12",
		"category":    "theater",
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("image", "poster.png")
	require.NoError(t, err)
	_, err = part.Write(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/v1/events", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+org)
	resp, body := a.send(req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	require.Equal(t, string(domain.CategoryTheater), body["category"])

	imageID, _ := body["image_id"].(string)
	require.True(t, strings.HasSuffix(imageID, ".png"), imageID)

	img, err := http.Get(a.server.URL + "/media/" + imageID)
	require.NoError(t, err)
	img.Body.Close()
	require.Equal(t, http.StatusOK, img.StatusCode)
}

func TestRateLimit(t *testing.T) {
	a := newAPI(t, &config.Config{RateLimitPerIP: 2, RateLimitWindow: time.Minute, RecommendLimit: 5})
	for i := 0; i < 2; i++ {
		resp, _ := a.do(http.MethodGet, "/v1/events", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := a.do(http.MethodGet, "/v1/events", "", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "rate_limited", errorCode(body))
	require.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestProfileAndRecommendations(t *testing.T) {
	a := newAPI(t, nil)
	org := a.signup("org@example.com", domain.RoleOrganizer)
	user := a.signup("user@example.com", domain.RoleAttendee)
	a.publishEvent(org, 10)

	resp, body := a.do(http.MethodPatch, "/v1/me", user, map[string]any{"interests": []string{"jazz", "music", "Jazz"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, []any{"jazz", "music"}, body["interests"])

	resp, body = a.do(http.MethodGet, "/v1/recommendations", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["items"], 1)

	resp, body = a.do(http.MethodGet, "/v1/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	resp, _ = a.do(http.MethodGet, "/v1/readyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
