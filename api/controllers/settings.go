package controllers

import (
	"context"
	"net/http"

	"github.com/reclamflow/feed/api/responses"
	"github.com/reclamflow/feed/api/validators"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
)

type SoundSettings interface {
	Enabled(ctx context.Context) (bool, error)
	SetEnabled(ctx context.Context, enabled bool) error
}

type soundSettingsBody struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func GetSoundSetting(svc SoundSettings, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sound settings unavailable"))
			return
		}
		enabled, err := svc.Enabled(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read sound preference"))
			return
		}
		responses.WriteSuccess(w, map[string]bool{"enabled": enabled})
	}
}

// UpdateSoundSetting persists the mute preference.
func UpdateSoundSetting(svc SoundSettings, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sound settings unavailable"))
			return
		}
		var body soundSettingsBody
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetEnabled(r.Context(), *body.Enabled); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save sound preference"))
			return
		}
		responses.WriteSuccess(w, map[string]bool{"enabled": *body.Enabled})
	}
}
