package handler

import (
	"context"
	"net/http"
	"strings"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/httputils"
	"tush00nka/bbbab_teamchat/internal/service"

	"github.com/gorilla/mux"
)

// Authorizer решает, можно ли пользователю подписаться на канал рассылки
type Authorizer interface {
	Authorize(ctx context.Context, userID uint, name string) (broadcast.Decision, error)
}

// SocketServer принимает websocket-подключение уже опознанного пользователя
type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, member model.UserSummary)
}

type RealtimeHandler struct {
	authorizer  Authorizer
	sockets     SocketServer
	userService service.UserService
}

func NewRealtimeHandler(authorizer Authorizer, sockets SocketServer, userService service.UserService) *RealtimeHandler {
	return &RealtimeHandler{authorizer: authorizer, sockets: sockets, userService: userService}
}

func (h *RealtimeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/broadcasting/auth", h.authorize).Methods("POST", "OPTIONS")
	router.HandleFunc("/ws", h.serveWS).Methods("GET")
}

type broadcastAuthRequest struct {
	ChannelName string `json:"channel_name"`
}

type BroadcastAuthResponse struct {
	Auth        bool               `json:"auth"`
	ChannelData *model.UserSummary `json:"channel_data,omitempty"`
}

// @Summary Authorize subscription
// @Description Checks whether the caller may subscribe to a broadcast channel; presence channels return member info
// @ID broadcasting-auth
// @Accept json,x-www-form-urlencoded
// @Produce json
// @Param AuthData body broadcastAuthRequest true "Channel name"
// @Success 200 {object} BroadcastAuthResponse
// @Failure 403 {object} httputils.ErrorResponse
// @Failure 404 {object} httputils.ErrorResponse
// @Router /broadcasting/auth [post]
func (h *RealtimeHandler) authorize(w http.ResponseWriter, r *http.Request) {
	var name string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var request broadcastAuthRequest
		if err := decodeJSON(r, &request); err != nil {
			httputils.WriteError(w, err)
			return
		}
		name = request.ChannelName
	} else {
		name = r.FormValue("channel_name")
	}
	if name == "" {
		httputils.WriteError(w, apperr.Invalidf("channel_name is required"))
		return
	}

	decision, err := h.authorizer.Authorize(r.Context(), currentUserID(r), name)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}
	if !decision.Allowed {
		reason := decision.Reason
		if reason == nil {
			reason = apperr.Forbiddenf("subscription denied")
		}
		httputils.WriteError(w, reason)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, BroadcastAuthResponse{Auth: true, ChannelData: decision.Member})
}

// @Summary Websocket
// @Description Realtime connection; token may be passed in the "token" query parameter
// @ID ws
// @Param token query string false "Auth Token"
// @Success 101
// @Failure 401 {object} httputils.ErrorResponse
// @Router /ws [get]
func (h *RealtimeHandler) serveWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetUserByID(r.Context(), currentUserID(r))
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			err = apperr.New(apperr.Unauthenticated, "user no longer exists")
		}
		httputils.WriteError(w, err)
		return
	}

	h.sockets.Serve(w, r, user.Summary())
}
