package handler

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/httputils"
	"tush00nka/bbbab_teamchat/internal/service"

	"github.com/gorilla/mux"
)

// multipartMemory сколько тела формы держать в памяти, остальное уходит во временные файлы
const multipartMemory = 32 << 20

type MessageHandler struct {
	messageService  service.MessageService
	reactionService service.ReactionService
}

func NewMessageHandler(messageService service.MessageService, reactionService service.ReactionService) *MessageHandler {
	return &MessageHandler{messageService: messageService, reactionService: reactionService}
}

func (h *MessageHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/channels/{id:[0-9]+}/messages", h.getMessages).Methods("GET", "OPTIONS")
	router.HandleFunc("/channels/{id:[0-9]+}/messages", h.sendMessage).Methods("POST", "OPTIONS")
	router.HandleFunc("/messages/{id:[0-9]+}", h.editMessage).Methods("PUT", "OPTIONS")
	router.HandleFunc("/messages/{id:[0-9]+}", h.deleteMessage).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/messages/{id:[0-9]+}/reactions", h.listReactions).Methods("GET", "OPTIONS")
	router.HandleFunc("/messages/{id:[0-9]+}/reactions", h.toggleReaction).Methods("POST", "OPTIONS")
	router.HandleFunc("/attachments/{id:[0-9]+}", h.attachmentURL).Methods("GET", "OPTIONS")
}

type sendMessageRequest struct {
	Content         string            `json:"content"`
	Type            model.MessageType `json:"type"`
	ParentMessageID *uint             `json:"parent_message_id"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type MessageResponseBody struct {
	Message string         `json:"message"`
	Data    *model.Message `json:"data"`
}

type ReactionResponse struct {
	Message   string                `json:"message"`
	State     string                `json:"state"`
	Reactions []model.ReactionCount `json:"reactions"`
}

type ReactionsResponse struct {
	Reactions []model.ReactionCount `json:"reactions"`
}

type AttachmentURLResponse struct {
	URL string `json:"url"`
}

// @Summary Send message
// @Description Send message to channel; multipart form accepts files in "attachments"
// @ID send-message
// @Accept json,mpfd
// @Produce json
// @Param id path int true "Channel ID"
// @Param MessageData body sendMessageRequest true "Message Data"
// @Success 201 {object} MessageResponseBody
// @Failure 401 {object} httputils.ErrorResponse
// @Failure 422 {object} httputils.ErrorResponse
// @Router /channels/{id}/messages [post]
func (h *MessageHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	input := service.PostMessageInput{ChannelID: channelID, UserID: currentUserID(r)}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		files, err := readMultipart(r, &input)
		if err != nil {
			httputils.WriteError(w, err)
			return
		}
		defer closeAll(files)
	} else {
		var request sendMessageRequest
		if err := decodeJSON(r, &request); err != nil {
			httputils.WriteError(w, err)
			return
		}
		input.Content = request.Content
		input.Type = request.Type
		input.ParentID = request.ParentMessageID
	}

	msg, err := h.messageService.PostMessage(r.Context(), input)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusCreated, MessageResponseBody{Message: "Message sent successfully", Data: msg})
}

// readMultipart заполняет input из формы и открывает файлы; закрыть их должен вызывающий
func readMultipart(r *http.Request, input *service.PostMessageInput) ([]multipart.File, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, apperr.Invalidf("invalid multipart form")
	}

	input.Content = r.FormValue("content")
	input.Type = model.MessageType(r.FormValue("type"))
	if raw := r.FormValue("parent_message_id"); raw != "" {
		parentID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parentID == 0 {
			return nil, apperr.Invalidf("invalid parent_message_id")
		}
		id := uint(parentID)
		input.ParentID = &id
	}

	var opened []multipart.File
	for _, header := range r.MultipartForm.File["attachments"] {
		if header.Size > service.MaxAttachmentSize {
			closeAll(opened)
			return nil, apperr.Invalidf("attachment %s exceeds %d bytes", header.Filename, service.MaxAttachmentSize)
		}
		f, err := header.Open()
		if err != nil {
			closeAll(opened)
			return nil, apperr.Invalidf("failed to read attachment %s", header.Filename)
		}
		opened = append(opened, f)
		input.Files = append(input.Files, service.FileUpload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        f,
		})
	}
	return opened, nil
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		f.Close()
	}
}

// @Summary Get messages
// @Description Root messages of the channel or replies of one thread, newest first
// @ID get-messages
// @Produce json
// @Param id path int true "Channel ID"
// @Param parent_message_id query int false "Thread root"
// @Param page query int false "Page number"
// @Success 200 {object} Paginated[model.Message]
// @Failure 404 {object} httputils.ErrorResponse
// @Router /channels/{id}/messages [get]
func (h *MessageHandler) getMessages(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	var parentID *uint
	if raw := r.URL.Query().Get("parent_message_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			httputils.WriteError(w, apperr.Invalidf("invalid parent_message_id"))
			return
		}
		parent := uint(id)
		parentID = &parent
	}

	page := pageOf(r)
	messages, total, err := h.messageService.ListMessages(r.Context(), channelID, currentUserID(r), parentID, page)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, paginated(messages, total, page, 25))
}

// @Summary Edit message
// @ID edit-message
// @Accept json
// @Produce json
// @Param id path int true "Message ID"
// @Param MessageData body editMessageRequest true "New content"
// @Success 200 {object} MessageResponseBody
// @Failure 403 {object} httputils.ErrorResponse
// @Router /messages/{id} [put]
func (h *MessageHandler) editMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	var request editMessageRequest
	if err := decodeJSON(r, &request); err != nil {
		httputils.WriteError(w, err)
		return
	}

	msg, err := h.messageService.EditMessage(r.Context(), messageID, currentUserID(r), request.Content)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, MessageResponseBody{Message: "Message updated successfully", Data: msg})
}

// @Summary Delete message
// @Description Author or channel admin
// @ID delete-message
// @Param id path int true "Message ID"
// @Success 204
// @Failure 403 {object} httputils.ErrorResponse
// @Router /messages/{id} [delete]
func (h *MessageHandler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	if err := h.messageService.DeleteMessage(r.Context(), messageID, currentUserID(r)); err != nil {
		httputils.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// @Summary List reactions
// @ID list-reactions
// @Produce json
// @Param id path int true "Message ID"
// @Success 200 {object} ReactionsResponse
// @Router /messages/{id}/reactions [get]
func (h *MessageHandler) listReactions(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	reactions, err := h.reactionService.ListReactions(r.Context(), messageID, currentUserID(r))
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, ReactionsResponse{Reactions: reactions})
}

// @Summary Toggle reaction
// @ID toggle-reaction
// @Accept json
// @Produce json
// @Param id path int true "Message ID"
// @Param ReactionData body reactionRequest true "Single emoji"
// @Success 200 {object} ReactionResponse
// @Failure 422 {object} httputils.ErrorResponse
// @Router /messages/{id}/reactions [post]
func (h *MessageHandler) toggleReaction(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	var request reactionRequest
	if err := decodeJSON(r, &request); err != nil {
		httputils.WriteError(w, err)
		return
	}

	result, err := h.reactionService.ToggleReaction(r.Context(), messageID, currentUserID(r), request.Emoji)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, ReactionResponse{
		Message:   "Reaction " + string(result.State) + " successfully",
		State:     string(result.State),
		Reactions: result.Reactions,
	})
}

// @Summary Attachment link
// @Description Short-lived download link for a member of the channel
// @ID attachment-url
// @Produce json
// @Param id path int true "Attachment ID"
// @Success 200 {object} AttachmentURLResponse
// @Failure 404 {object} httputils.ErrorResponse
// @Failure 503 {object} httputils.ErrorResponse
// @Router /attachments/{id} [get]
func (h *MessageHandler) attachmentURL(w http.ResponseWriter, r *http.Request) {
	attachmentID, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	url, err := h.messageService.AttachmentURL(r.Context(), attachmentID, currentUserID(r))
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, AttachmentURLResponse{URL: url})
}
