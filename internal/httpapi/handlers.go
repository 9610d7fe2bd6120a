package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/foxseedlab/lessoncall/internal/calls"
	"github.com/foxseedlab/lessoncall/internal/coordination"
	"github.com/foxseedlab/lessoncall/internal/dialer"
	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/foxseedlab/lessoncall/internal/session"
	"github.com/gin-gonic/gin"
)

type CallService interface {
	Dial(ctx context.Context, lessonID, initiatorID string) (calls.View, error)
	Join(ctx context.Context, lessonID, partyID string) (calls.View, error)
	Decline(ctx context.Context, lessonID, partyID string) error
	Get(lessonID, partyID string) (calls.View, error)
	Retry(ctx context.Context, lessonID, partyID string) (calls.View, error)
	NoAnswer(ctx context.Context, lessonID, partyID string) error
	Cancel(ctx context.Context, lessonID, partyID string) error
	End(ctx context.Context, lessonID, partyID string) error
	ToggleMic(ctx context.Context, lessonID, partyID string) (calls.View, error)
	ToggleCamera(ctx context.Context, lessonID, partyID string) (calls.View, error)
}

type EventLister interface {
	List(ctx context.Context, lessonID string) ([]repository.CallEvent, error)
}

// Handlers are thin: they read the lesson and party, call the manager and
// render JSON.
type Handlers struct {
	Calls  CallService
	Events EventLister
}

type partyRequest struct {
	PartyID string `json:"party_id" binding:"required"`
}

type callEventResponse struct {
	ID         string         `json:"id"`
	LessonID   string         `json:"lesson_id"`
	SessionID  *string        `json:"session_id"`
	Kind       string         `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func bindParty(c *gin.Context) (string, bool) {
	var req partyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "party_id required"})
		return "", false
	}
	return req.PartyID, true
}

func (h Handlers) Dial(c *gin.Context) {
	partyID, ok := bindParty(c)
	if !ok {
		return
	}
	v, err := h.Calls.Dial(c.Request.Context(), c.Param("lesson_id"), partyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h Handlers) Join(c *gin.Context) {
	partyID, ok := bindParty(c)
	if !ok {
		return
	}
	v, err := h.Calls.Join(c.Request.Context(), c.Param("lesson_id"), partyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h Handlers) Decline(c *gin.Context) {
	partyID, ok := bindParty(c)
	if !ok {
		return
	}
	if err := h.Calls.Decline(c.Request.Context(), c.Param("lesson_id"), partyID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) Get(c *gin.Context) {
	partyID := c.Query("party_id")
	if partyID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "party_id required"})
		return
	}
	v, err := h.Calls.Get(c.Param("lesson_id"), partyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h Handlers) Retry(c *gin.Context) {
	h.viewAction(c, h.Calls.Retry)
}

func (h Handlers) ToggleMic(c *gin.Context) {
	h.viewAction(c, h.Calls.ToggleMic)
}

func (h Handlers) ToggleCamera(c *gin.Context) {
	h.viewAction(c, h.Calls.ToggleCamera)
}

func (h Handlers) NoAnswer(c *gin.Context) {
	h.action(c, h.Calls.NoAnswer)
}

func (h Handlers) Cancel(c *gin.Context) {
	h.action(c, h.Calls.Cancel)
}

func (h Handlers) End(c *gin.Context) {
	h.action(c, h.Calls.End)
}

func (h Handlers) ListEvents(c *gin.Context) {
	events, err := h.Events.List(c.Request.Context(), c.Param("lesson_id"))
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed"})
		return
	}
	out := make([]callEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, callEventResponse{
			ID:         e.ID,
			LessonID:   e.LessonID,
			SessionID:  e.SessionID,
			Kind:       string(e.Kind),
			OccurredAt: e.OccurredAt,
			Metadata:   e.Metadata,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (h Handlers) viewAction(c *gin.Context, fn func(context.Context, string, string) (calls.View, error)) {
	partyID, ok := bindParty(c)
	if !ok {
		return
	}
	v, err := fn(c.Request.Context(), c.Param("lesson_id"), partyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h Handlers) action(c *gin.Context, fn func(context.Context, string, string) error) {
	partyID, ok := bindParty(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), c.Param("lesson_id"), partyID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrCallNotFound),
		errors.Is(err, repository.ErrLessonNotFound),
		errors.Is(err, coordination.ErrRoomNotPublished):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrNotParticipant),
		errors.Is(err, calls.ErrNotInitiator):
		return http.StatusForbidden
	case errors.Is(err, calls.ErrCallActive),
		errors.Is(err, calls.ErrLessonClosed),
		errors.Is(err, session.ErrSessionActive),
		errors.Is(err, dialer.ErrAttemptPending),
		errors.Is(err, dialer.ErrNoDecisionPending),
		errors.Is(err, dialer.ErrRetryBudgetExhausted),
		errors.Is(err, dialer.ErrCallFinished):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
