package handler

import (
	"net/http"
	"strconv"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/httputils"
	"tush00nka/bbbab_teamchat/internal/repository"
	"tush00nka/bbbab_teamchat/internal/service"

	"github.com/gorilla/mux"
)

type NotificationHandler struct {
	notificationService service.NotificationService
}

func NewNotificationHandler(notificationService service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", h.list).Methods("GET", "OPTIONS")
	router.HandleFunc("/notifications/unread-count", h.unreadCount).Methods("GET", "OPTIONS")
	router.HandleFunc("/notifications/mark-all-read", h.markAllRead).Methods("POST", "OPTIONS")
	router.HandleFunc("/notifications/{id:[0-9]+}/read", h.markRead).Methods("POST", "OPTIONS")
}

type NotificationResponse struct {
	Message      string              `json:"message"`
	Notification *model.Notification `json:"notification"`
}

type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

type MarkAllReadResponse struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

// @Summary List notifications
// @ID list-notifications
// @Produce json
// @Param read query bool false "Only read or only unread"
// @Param page query int false "Page number"
// @Success 200 {object} Paginated[model.Notification]
// @Failure 422 {object} httputils.ErrorResponse
// @Router /notifications [get]
func (h *NotificationHandler) list(w http.ResponseWriter, r *http.Request) {
	filter := repository.NotificationFilter{Page: pageOf(r)}
	if raw := r.URL.Query().Get("read"); raw != "" {
		read, err := strconv.ParseBool(raw)
		if err != nil {
			httputils.WriteError(w, apperr.Invalidf("read must be true or false"))
			return
		}
		filter.Read = &read
	}

	notifications, total, err := h.notificationService.List(r.Context(), currentUserID(r), filter)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, paginated(notifications, total, filter.Page, 20))
}

// @Summary Unread notifications count
// @ID unread-count
// @Produce json
// @Success 200 {object} UnreadCountResponse
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.notificationService.UnreadCount(r.Context(), currentUserID(r))
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

// @Summary Mark notification read
// @ID mark-read
// @Produce json
// @Param id path int true "Notification ID"
// @Success 200 {object} NotificationResponse
// @Failure 404 {object} httputils.ErrorResponse
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) markRead(w http.ResponseWriter, r *http.Request) {
	notificationID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	notification, err := h.notificationService.MarkRead(r.Context(), currentUserID(r), notificationID)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, NotificationResponse{Message: "Notification marked as read", Notification: notification})
}

// @Summary Mark all notifications read
// @ID mark-all-read
// @Produce json
// @Success 200 {object} MarkAllReadResponse
// @Router /notifications/mark-all-read [post]
func (h *NotificationHandler) markAllRead(w http.ResponseWriter, r *http.Request) {
	updated, err := h.notificationService.MarkAllRead(r.Context(), currentUserID(r))
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, MarkAllReadResponse{Message: "All notifications marked as read", Updated: updated})
}
