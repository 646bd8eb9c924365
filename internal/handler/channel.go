package handler

import (
	"net/http"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/httputils"
	"tush00nka/bbbab_teamchat/internal/service"

	"github.com/gorilla/mux"
)

type ChannelHandler struct {
	channelService service.ChannelService
	typingService  service.TypingService
}

func NewChannelHandler(channelService service.ChannelService, typingService service.TypingService) *ChannelHandler {
	return &ChannelHandler{channelService: channelService, typingService: typingService}
}

func (h *ChannelHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/channels", h.listChannels).Methods("GET", "OPTIONS")
	router.HandleFunc("/channels", h.createChannel).Methods("POST", "OPTIONS")
	router.HandleFunc("/channels/search", h.searchChannels).Methods("GET", "OPTIONS")
	router.HandleFunc("/channels/joined", h.joinedChannels).Methods("GET", "OPTIONS")
	router.HandleFunc("/channels/direct", h.directChannel).Methods("POST", "OPTIONS")
	router.HandleFunc("/channels/{id:[0-9]+}", h.getChannel).Methods("GET", "OPTIONS")
	router.HandleFunc("/channels/{id:[0-9]+}", h.updateChannel).Methods("PUT", "OPTIONS")
	router.HandleFunc("/channels/{id:[0-9]+}", h.deleteChannel).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/channels/{id:[0-9]+}/join", h.joinChannel).Methods("POST", "OPTIONS")
	router.HandleFunc("/channels/{id:[0-9]+}/leave", h.leaveChannel).Methods("POST", "OPTIONS")
	router.HandleFunc("/channels/{id:[0-9]+}/members", h.members).Methods("GET", "OPTIONS")
	router.HandleFunc("/channels/{id:[0-9]+}/typing", h.typing).Methods("POST", "OPTIONS")
}

type createChannelRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Type        model.Visibility `json:"type"`
}

type updateChannelRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type directChannelRequest struct {
	UserID uint `json:"user_id"`
}

type ChannelResponse struct {
	Message string         `json:"message,omitempty"`
	Channel *model.Channel `json:"channel"`
}

type ChannelsResponse struct {
	Data []model.Channel `json:"data"`
}

type JoinedChannelsResponse struct {
	ChannelIDs []uint `json:"channel_ids"`
}

type TypingResponse struct {
	Status      string `json:"status"`
	ExpiresInMs int64  `json:"expires_in_ms"`
}

// @Summary List channels
// @Description Channels the caller belongs to
// @ID list-channels
// @Produce json
// @Param type query string false "public, private or direct"
// @Param page query int false "Page number"
// @Param per_page query int false "Page size"
// @Success 200 {object} Paginated[model.Channel]
// @Router /channels [get]
func (h *ChannelHandler) listChannels(w http.ResponseWriter, r *http.Request) {
	page := pageOf(r)
	channels, total, err := h.channelService.ListChannels(r.Context(), currentUserID(r),
		model.Visibility(r.URL.Query().Get("type")), page)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, paginated(channels, total, page, 15))
}

// @Summary Create channel
// @ID create-channel
// @Accept json
// @Produce json
// @Param channelData body createChannelRequest true "Channel data"
// @Success 201 {object} ChannelResponse
// @Failure 422 {object} httputils.ErrorResponse
// @Router /channels [post]
func (h *ChannelHandler) createChannel(w http.ResponseWriter, r *http.Request) {
	var request createChannelRequest
	if err := decodeJSON(r, &request); err != nil {
		httputils.WriteError(w, err)
		return
	}

	channel, err := h.channelService.CreateChannel(r.Context(), currentUserID(r), service.CreateChannelInput{
		Name:        request.Name,
		Description: request.Description,
		Visibility:  request.Type,
	})
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusCreated, ChannelResponse{Message: "Channel created successfully", Channel: channel})
}

// @Summary Search channels
// @ID search-channels
// @Produce json
// @Param query query string true "2..100 characters"
// @Success 200 {object} ChannelsResponse
// @Failure 422 {object} httputils.ErrorResponse
// @Router /channels/search [get]
func (h *ChannelHandler) searchChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channelService.SearchChannels(r.Context(), currentUserID(r), r.URL.Query().Get("query"))
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, ChannelsResponse{Data: channels})
}

// @Summary Joined channel ids
// @ID joined-channels
// @Produce json
// @Success 200 {object} JoinedChannelsResponse
// @Router /channels/joined [get]
func (h *ChannelHandler) joinedChannels(w http.ResponseWriter, r *http.Request) {
	ids, err := h.channelService.JoinedChannelIDs(r.Context(), currentUserID(r))
	if err != nil {
		httputils.WriteError(w, err)
		return
	}
	if ids == nil {
		ids = []uint{}
	}

	httputils.ResponseJSON(w, http.StatusOK, JoinedChannelsResponse{ChannelIDs: ids})
}

// @Summary Get channel
// @Description Private and direct channels of other users look like missing ones
// @ID get-channel
// @Produce json
// @Param id path int true "Channel ID"
// @Success 200 {object} model.Channel
// @Failure 403 {object} httputils.ErrorResponse
// @Failure 404 {object} httputils.ErrorResponse
// @Router /channels/{id} [get]
func (h *ChannelHandler) getChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	channel, err := h.channelService.GetChannel(r.Context(), currentUserID(r), channelID)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, channel)
}

// @Summary Update channel
// @ID update-channel
// @Accept json
// @Produce json
// @Param id path int true "Channel ID"
// @Param channelData body updateChannelRequest true "Fields to change"
// @Success 200 {object} ChannelResponse
// @Failure 403 {object} httputils.ErrorResponse
// @Router /channels/{id} [put]
func (h *ChannelHandler) updateChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	var request updateChannelRequest
	if err := decodeJSON(r, &request); err != nil {
		httputils.WriteError(w, err)
		return
	}

	channel, err := h.channelService.UpdateChannel(r.Context(), currentUserID(r), channelID, service.UpdateChannelInput{
		Name:        request.Name,
		Description: request.Description,
	})
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, ChannelResponse{Message: "Channel updated successfully", Channel: channel})
}

// @Summary Delete channel
// @ID delete-channel
// @Param id path int true "Channel ID"
// @Success 204
// @Failure 403 {object} httputils.ErrorResponse
// @Router /channels/{id} [delete]
func (h *ChannelHandler) deleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	if err := h.channelService.DeleteChannel(r.Context(), currentUserID(r), channelID); err != nil {
		httputils.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// @Summary Join channel
// @ID join-channel
// @Produce json
// @Param id path int true "Channel ID"
// @Success 201 {object} ChannelResponse
// @Failure 409 {object} httputils.ErrorResponse
// @Router /channels/{id}/join [post]
func (h *ChannelHandler) joinChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	channel, err := h.channelService.JoinChannel(r.Context(), currentUserID(r), channelID)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusCreated, ChannelResponse{Message: "Joined channel successfully", Channel: channel})
}

// @Summary Leave channel
// @ID leave-channel
// @Param id path int true "Channel ID"
// @Success 204
// @Failure 403 {object} httputils.ErrorResponse
// @Router /channels/{id}/leave [post]
func (h *ChannelHandler) leaveChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	if err := h.channelService.LeaveChannel(r.Context(), currentUserID(r), channelID); err != nil {
		httputils.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// @Summary Channel members
// @ID channel-members
// @Produce json
// @Param id path int true "Channel ID"
// @Success 200 {object} Paginated[model.ChannelMember]
// @Router /channels/{id}/members [get]
func (h *ChannelHandler) members(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	page := pageOf(r)
	members, total, err := h.channelService.Members(r.Context(), currentUserID(r), channelID, page)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, paginated(members, total, page, 20))
}

// @Summary Direct channel
// @Description Create or get the direct channel with another user
// @ID direct-channel
// @Accept json
// @Produce json
// @Param directData body directChannelRequest true "Other user"
// @Success 200 {object} ChannelResponse
// @Success 201 {object} ChannelResponse
// @Failure 422 {object} httputils.ErrorResponse
// @Router /channels/direct [post]
func (h *ChannelHandler) directChannel(w http.ResponseWriter, r *http.Request) {
	var request directChannelRequest
	if err := decodeJSON(r, &request); err != nil {
		httputils.WriteError(w, err)
		return
	}

	channel, created, err := h.channelService.DirectChannel(r.Context(), currentUserID(r), request.UserID)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	if created {
		httputils.ResponseJSON(w, http.StatusCreated, ChannelResponse{Message: "Direct channel created", Channel: channel})
		return
	}
	httputils.ResponseJSON(w, http.StatusOK, ChannelResponse{Channel: channel})
}

// @Summary Typing signal
// @Description Requires a presence subscription to the channel
// @ID typing
// @Produce json
// @Param id path int true "Channel ID"
// @Success 200 {object} TypingResponse
// @Failure 422 {object} httputils.ErrorResponse
// @Router /channels/{id}/typing [post]
func (h *ChannelHandler) typing(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	state, err := h.typingService.Typing(r.Context(), channelID, currentUserID(r))
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, TypingResponse{Status: "success", ExpiresInMs: state.ExpiresIn.Milliseconds()})
}
