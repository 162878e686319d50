package controllers

import (
	"context"
	"net/http"

	"github.com/reclamflow/feed/api/responses"
	"github.com/reclamflow/feed/internal/feed"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
)

type FeedStatusService interface {
	Status() feed.Status
	Retry(ctx context.Context) error
}

// FeedStatus reports the loading and error flags of the feed.
func FeedStatus(svc FeedStatusService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification feed unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.Status())
	}
}

// RetryFeed resolves the session identity again and, when that succeeds,
// asks for an immediate poll.
func RetryFeed(svc FeedStatusService, pollNow func(), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification feed unavailable"))
			return
		}
		if err := svc.Retry(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if pollNow != nil {
			pollNow()
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, svc.Status())
	}
}
