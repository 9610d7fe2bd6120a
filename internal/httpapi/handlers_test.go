package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/lessoncall/internal/calls"
	"github.com/foxseedlab/lessoncall/internal/coordination"
	"github.com/foxseedlab/lessoncall/internal/dialer"
	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/foxseedlab/lessoncall/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeCalls struct {
	err       error
	view      calls.View
	lastParty string
	ended     int
}

func (f *fakeCalls) Dial(ctx context.Context, lessonID, initiatorID string) (calls.View, error) {
	f.lastParty = initiatorID
	return f.view, f.err
}

func (f *fakeCalls) Join(ctx context.Context, lessonID, partyID string) (calls.View, error) {
	f.lastParty = partyID
	return f.view, f.err
}

func (f *fakeCalls) Decline(ctx context.Context, lessonID, partyID string) error {
	return f.err
}

func (f *fakeCalls) Get(lessonID, partyID string) (calls.View, error) {
	f.lastParty = partyID
	return f.view, f.err
}

func (f *fakeCalls) Retry(ctx context.Context, lessonID, partyID string) (calls.View, error) {
	return f.view, f.err
}

func (f *fakeCalls) NoAnswer(ctx context.Context, lessonID, partyID string) error {
	return f.err
}

func (f *fakeCalls) Cancel(ctx context.Context, lessonID, partyID string) error {
	return f.err
}

func (f *fakeCalls) End(ctx context.Context, lessonID, partyID string) error {
	f.ended++
	return f.err
}

func (f *fakeCalls) ToggleMic(ctx context.Context, lessonID, partyID string) (calls.View, error) {
	return f.view, f.err
}

func (f *fakeCalls) ToggleCamera(ctx context.Context, lessonID, partyID string) (calls.View, error) {
	return f.view, f.err
}

type fakeEvents struct {
	events []repository.CallEvent
	err    error
}

func (f fakeEvents) List(ctx context.Context, lessonID string) ([]repository.CallEvent, error) {
	return f.events, f.err
}

func newTestRouter(c *fakeCalls, e fakeEvents) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(Handlers{Calls: c, Events: e}, prometheus.NewRegistry())
}

func perform(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestDial_Created(t *testing.T) {
	c := &fakeCalls{view: calls.View{
		Role:    calls.RoleInitiator,
		Session: session.CallSession{LessonID: "lesson-1", State: session.StateProvisioning},
		Dialer:  &dialer.State{Phase: dialer.PhaseRinging, RetriesRemaining: 2, CountdownSecondsRemaining: 40},
	}}
	r := newTestRouter(c, fakeEvents{})

	w := perform(r, http.MethodPost, "/v1/lessons/lesson-1/call", `{"party_id":"tutor-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if c.lastParty != "tutor-1" {
		t.Fatalf("unexpected party: %s", c.lastParty)
	}
	var got struct {
		Role    string `json:"role"`
		Session struct {
			State string `json:"state"`
		} `json:"session"`
		Dialer struct {
			Phase                     string `json:"phase"`
			CountdownSecondsRemaining int    `json:"countdown_seconds_remaining"`
		} `json:"dialer"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.Role != "initiator" || got.Session.State != "provisioning" || got.Dialer.Phase != "ringing" || got.Dialer.CountdownSecondsRemaining != 40 {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if w.Header().Get(headerRequestID) == "" {
		t.Fatal("expected request id header")
	}
}

func TestDial_RequiresParty(t *testing.T) {
	r := newTestRouter(&fakeCalls{}, fakeEvents{})
	w := perform(r, http.MethodPost, "/v1/lessons/lesson-1/call", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGet_RequiresPartyQuery(t *testing.T) {
	r := newTestRouter(&fakeCalls{}, fakeEvents{})
	w := perform(r, http.MethodGet, "/v1/lessons/lesson-1/call", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	c := &fakeCalls{view: calls.View{Role: calls.RoleCallee}}
	r = newTestRouter(c, fakeEvents{})
	w = perform(r, http.MethodGet, "/v1/lessons/lesson-1/call?party_id=student-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if c.lastParty != "student-1" {
		t.Fatalf("unexpected party: %s", c.lastParty)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: calls.ErrCallNotFound, want: http.StatusNotFound},
		{name: "lesson missing", err: repository.ErrLessonNotFound, want: http.StatusNotFound},
		{name: "room missing", err: coordination.ErrRoomNotPublished, want: http.StatusNotFound},
		{name: "stranger", err: calls.ErrNotParticipant, want: http.StatusForbidden},
		{name: "active", err: calls.ErrCallActive, want: http.StatusConflict},
		{name: "exhausted", err: dialer.ErrRetryBudgetExhausted, want: http.StatusConflict},
		{name: "wrapped", err: errors.Join(errors.New("context"), dialer.ErrNoDecisionPending), want: http.StatusConflict},
		{name: "unexpected", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeCalls{err: tc.err}, fakeEvents{})
			w := perform(r, http.MethodPost, "/v1/lessons/lesson-1/call/retry", `{"party_id":"tutor-1"}`)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestEnd_NoContent(t *testing.T) {
	c := &fakeCalls{}
	r := newTestRouter(c, fakeEvents{})
	w := perform(r, http.MethodPost, "/v1/lessons/lesson-1/call/end", `{"party_id":"tutor-1"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if c.ended != 1 {
		t.Fatalf("expected one end call, got %d", c.ended)
	}
}

func TestListEvents(t *testing.T) {
	sessionID := "session-1"
	events := fakeEvents{events: []repository.CallEvent{
		{ID: "e1", LessonID: "lesson-1", Kind: repository.CallEventInitiated, OccurredAt: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{ID: "e2", LessonID: "lesson-1", SessionID: &sessionID, Kind: repository.CallEventConnected, OccurredAt: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)},
	}}
	r := newTestRouter(&fakeCalls{}, events)
	w := perform(r, http.MethodGet, "/v1/lessons/lesson-1/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Events []callEventResponse `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(got.Events) != 2 || got.Events[0].Kind != "initiated" || got.Events[0].SessionID != nil {
		t.Fatalf("unexpected events: %+v", got.Events)
	}
	if got.Events[1].SessionID == nil || *got.Events[1].SessionID != "session-1" {
		t.Fatalf("unexpected session id: %+v", got.Events[1])
	}
}

func TestListEvents_Error(t *testing.T) {
	r := newTestRouter(&fakeCalls{}, fakeEvents{err: errors.New("db down")})
	w := perform(r, http.MethodGet, "/v1/lessons/lesson-1/events", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	r := newTestRouter(&fakeCalls{}, fakeEvents{})
	if w := perform(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", w.Code)
	}
	if w := perform(r, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", w.Code)
	}
}
