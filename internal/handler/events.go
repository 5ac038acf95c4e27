package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/feedgate/internal/journal"
	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/apperrors"
)

// EventLister is the read side of the feed journal.
type EventLister interface {
	List(ctx context.Context, f journal.Filter, limit int) ([]*model.FeedEvent, error)
}

type EventsHandler struct {
	svc EventLister
}

func NewEventsHandler(svc EventLister) *EventsHandler {
	return &EventsHandler{svc: svc}
}

func (h *EventsHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.Error(err)
		return
	}
	if limit == 0 {
		limit = 100
	}

	f := journal.Filter{
		Exchange: strings.ToLower(strings.TrimSpace(c.Query("exchange"))),
		Kind:     model.FeedEventKind(strings.TrimSpace(c.Query("kind"))),
	}

	records, err := h.svc.List(c.Request.Context(), f, limit)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}
