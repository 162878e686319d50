package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reclamflow/feed/api/responses"
	"github.com/reclamflow/feed/internal/feed"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
)

// NotificationsService is the part of the feed the notification routes use.
type NotificationsService interface {
	Notifications() []feed.NotificationRecord
	UnreadCount() int
	MarkRead(ctx context.Context, id int64) (feed.NotificationRecord, error)
	MarkAllRead(ctx context.Context) (int, error)
	ClearSeen(ctx context.Context) error
}

type notificationList struct {
	Items       []feed.NotificationRecord `json:"items"`
	UnreadCount int                       `json:"unreadCount"`
}

// ListNotifications returns the session's notifications in arrival order.
func ListNotifications(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification feed unavailable"))
			return
		}

		items := svc.Notifications()
		if unread := strings.TrimSpace(r.URL.Query().Get("unreadOnly")); unread != "" {
			value, err := strconv.ParseBool(unread)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unreadOnly value"))
				return
			}
			if value {
				filtered := items[:0]
				for _, item := range items {
					if !item.IsRead {
						filtered = append(filtered, item)
					}
				}
				items = filtered
			}
		}

		responses.WriteSuccess(w, notificationList{Items: items, UnreadCount: svc.UnreadCount()})
	}
}

// MarkNotificationRead flags a single notification as read.
func MarkNotificationRead(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification feed unavailable"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "notificationId"))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification id").WithDetails(map[string]any{"notificationId": raw}))
			return
		}

		ctx := logg.WithField(r.Context(), "notification_id", id)
		record, err := svc.MarkRead(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// MarkAllNotificationsRead flags every unread notification.
func MarkAllNotificationsRead(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification feed unavailable"))
			return
		}

		updated, err := svc.MarkAllRead(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"updated": updated})
	}
}

// ClearSeenNotifications forgets the seen set so already notified entities
// can notify again.
func ClearSeenNotifications(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification feed unavailable"))
			return
		}

		if err := svc.ClearSeen(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		logg.Info(r.Context(), "seen notifications cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}
