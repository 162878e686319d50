package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reclamflow/feed/api/responses"
	"github.com/reclamflow/feed/internal/toast"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
)

type ToastService interface {
	Active() []toast.Entry
	Dismiss(id string) bool
}

func ListToasts(svc ToastService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "toast queue unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.Active())
	}
}

// DismissToast closes a toast before its display window ends.
func DismissToast(svc ToastService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "toast queue unavailable"))
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "toastId"))
		if id == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "toast id is required"))
			return
		}
		if !svc.Dismiss(id) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "toast not active"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
