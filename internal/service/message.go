package service

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"
	"tush00nka/bbbab_teamchat/internal/policy"
	"tush00nka/bbbab_teamchat/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	MaxAttachmentSize = 10 << 20 // 10MB
	reclaimBatch      = 100
	downloadLinkTTL   = 15 * time.Minute
)

// FileUpload файл вложения из запроса
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type PostMessageInput struct {
	ChannelID uint
	UserID    uint
	Content   string
	Type      model.MessageType
	ParentID  *uint
	Files     []FileUpload
}

type messageService struct {
	messages      repository.MessageRepository
	channels      repository.ChannelRepository
	members       repository.MembershipRepository
	users         repository.UserRepository
	policy        *policy.Policy
	blobs         BlobStore
	notifications NotificationService
	events        Publisher
}

// NewMessageService blobs может быть nil: тогда сообщения с вложениями отклоняются
func NewMessageService(
	messages repository.MessageRepository,
	channels repository.ChannelRepository,
	members repository.MembershipRepository,
	users repository.UserRepository,
	access *policy.Policy,
	blobs BlobStore,
	notifications NotificationService,
	events Publisher,
) MessageService {
	return &messageService{
		messages:      messages,
		channels:      channels,
		members:       members,
		users:         users,
		policy:        access,
		blobs:         blobs,
		notifications: notifications,
		events:        events,
	}
}

// PostMessage сохраняет сообщение или ответ в треде. Файлы загружаются до
// записи в базу; при любой неудаче уже загруженные файлы освобождаются,
// так что сообщение никогда не ссылается на отсутствующий файл.
func (s *messageService) PostMessage(ctx context.Context, input PostMessageInput) (*model.Message, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, apperr.Invalidf("content is required")
	}
	if input.Type == "" {
		input.Type = model.MessageText
	}
	if !input.Type.Valid() {
		return nil, apperr.Invalidf("unknown message type %q", input.Type)
	}
	for _, file := range input.Files {
		if file.Size > MaxAttachmentSize {
			return nil, apperr.Invalidf("attachment %s exceeds 10MB", file.Name)
		}
	}
	if len(input.Files) > 0 && s.blobs == nil {
		return nil, apperr.New(apperr.Unavailable, "attachment storage is not configured")
	}

	channel, err := s.channels.GetByID(ctx, input.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanPost(ctx, input.UserID, channel); err != nil {
		return nil, err
	}

	// автор нужен событию; загружается до записи, чтобы ошибка не скрыла сохраненное сообщение
	author, err := s.users.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	author.SanitizePassword()

	var parent *model.Message
	if input.ParentID != nil {
		parent, err = s.parentOf(ctx, input.ChannelID, *input.ParentID)
		if err != nil {
			return nil, err
		}
	}

	attachments, err := s.upload(ctx, input.ChannelID, input.Files)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ChannelID:       input.ChannelID,
		UserID:          input.UserID,
		ParentMessageID: input.ParentID,
		Content:         content,
		Type:            input.Type,
		Attachments:     attachments,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		s.release(ctx, attachments)
		return nil, err
	}
	msg.User = author

	s.events.PublishChannel(ctx, channel.ID, broadcast.MessageSent{Message: msg}, input.UserID)
	s.notify(ctx, channel, msg, parent)

	return msg, nil
}

// parentOf корень треда в том же канале. Удаленный или чужой родитель
// неотличим от отсутствующего; ответ на ответ не допускается.
func (s *messageService) parentOf(ctx context.Context, channelID, parentID uint) (*model.Message, error) {
	parent, err := s.messages.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.ChannelID != channelID {
		return nil, apperr.NotFoundf("message not found")
	}
	if parent.IsReply() {
		return nil, apperr.Invalidf("replies cannot be nested, reply to the thread root instead")
	}
	return parent, nil
}

func (s *messageService) upload(ctx context.Context, channelID uint, files []FileUpload) ([]model.Attachment, error) {
	attachments := make([]model.Attachment, 0, len(files))
	for _, file := range files {
		name := path.Base(file.Name)
		key := path.Join("channels", strconv.FormatUint(uint64(channelID), 10), uuid.New().String(), name)

		if err := s.blobs.Put(ctx, key, file.Body, file.Size, file.ContentType); err != nil {
			s.release(ctx, attachments)
			return nil, apperr.Wrap(err, apperr.Unavailable, "failed to store attachment "+name)
		}
		attachments = append(attachments, model.Attachment{
			FileName: name,
			FilePath: key,
			FileType: file.ContentType,
			FileSize: file.Size,
		})
	}
	return attachments, nil
}

func (s *messageService) release(ctx context.Context, attachments []model.Attachment) {
	for _, a := range attachments {
		if err := s.blobs.Delete(ctx, a.FilePath); err != nil {
			logger.Log.Warn("failed to release attachment", "path", a.FilePath, "error", err)
		}
	}
}

// notify уведомляет автора корня треда об ответе и собеседника в личном
// канале. Сообщение уже сохранено, поэтому ошибка только логируется.
func (s *messageService) notify(ctx context.Context, channel *model.Channel, msg *model.Message, parent *model.Message) {
	data := map[string]any{
		"message_id": msg.ID,
		"channel_id": channel.ID,
		"user":       msg.User.Summary(),
		"excerpt":    excerpt(msg.Content),
	}

	var notifications []*model.Notification
	if parent != nil && parent.UserID != msg.UserID {
		data["parent_message_id"] = parent.ID
		notifications = append(notifications, newNotification(parent.UserID, model.NotificationThreadReply, data))
	}

	if channel.Visibility == model.VisibilityDirect {
		memberIDs, err := s.members.MemberIDs(ctx, channel.ID)
		if err != nil {
			logger.Log.Warn("failed to load direct channel members", "channel_id", channel.ID, "error", err)
		}
		for _, memberID := range memberIDs {
			if memberID == msg.UserID || (parent != nil && memberID == parent.UserID) {
				continue
			}
			notifications = append(notifications, newNotification(memberID, model.NotificationDirectMessage, data))
		}
	}

	if len(notifications) == 0 {
		return
	}
	if err := s.notifications.Notify(ctx, notifications...); err != nil {
		logger.Log.Warn("failed to create notifications", "message_id", msg.ID, "error", err)
	}
}

func newNotification(userID uint, kind model.NotificationType, data map[string]any) *model.Notification {
	raw, _ := json.Marshal(data)
	return &model.Notification{UserID: userID, Type: kind, Data: datatypes.JSON(raw)}
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= 100 {
		return content
	}
	return string(runes[:100]) + "..."
}

func (s *messageService) EditMessage(ctx context.Context, messageID, userID uint, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Invalidf("content is required")
	}

	msg, channel, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanEditMessage(ctx, userID, msg, channel); err != nil {
		return nil, err
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, content)
	if err != nil {
		return nil, err
	}

	s.events.PublishChannel(ctx, channel.ID, broadcast.MessageUpdated{Message: updated}, userID)
	return updated, nil
}

// DeleteMessage мягко удаляет сообщение и уменьшает счетчик треда. Файлы
// освобождаются после фиксации; неосвобожденные подберет ReclaimAttachments.
func (s *messageService) DeleteMessage(ctx context.Context, messageID, userID uint) error {
	msg, channel, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.policy.CanModerate(ctx, userID, msg, channel); err != nil {
		return err
	}

	if err := s.messages.SoftDelete(ctx, msg); err != nil {
		return err
	}

	if s.blobs != nil {
		for _, a := range msg.Attachments {
			s.reclaim(ctx, a)
		}
	}

	event := broadcast.MessageDeleted{
		MessageID:       msg.ID,
		ChannelID:       channel.ID,
		ParentMessageID: msg.ParentMessageID,
	}
	if msg.ParentMessageID != nil {
		if parent, err := s.messages.GetByID(ctx, *msg.ParentMessageID); err == nil {
			event.ThreadReplyCount = &parent.ThreadReplyCount
		}
	}
	s.events.PublishChannel(ctx, channel.ID, event, userID)
	return nil
}

// ListMessages корневые сообщения канала либо ответы треда parentID
func (s *messageService) ListMessages(ctx context.Context, channelID, userID uint, parentID *uint, page repository.Page) ([]model.Message, int64, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.policy.CanRead(ctx, userID, channel); err != nil {
		return nil, 0, err
	}
	if parentID != nil {
		parent, err := s.messages.GetByID(ctx, *parentID)
		if err != nil {
			return nil, 0, err
		}
		if parent.ChannelID != channelID {
			return nil, 0, apperr.NotFoundf("message not found")
		}
	}
	return s.messages.List(ctx, channelID, parentID, page)
}

// AttachmentURL временная ссылка на файл для участника канала
func (s *messageService) AttachmentURL(ctx context.Context, attachmentID, userID uint) (string, error) {
	if s.blobs == nil {
		return "", apperr.New(apperr.Unavailable, "attachment storage is not configured")
	}

	attachment, err := s.messages.Attachment(ctx, attachmentID)
	if err != nil {
		return "", err
	}
	_, channel, err := s.load(ctx, attachment.MessageID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return "", apperr.NotFoundf("attachment not found")
		}
		return "", err
	}
	if err := s.policy.CanRead(ctx, userID, channel); err != nil {
		return "", err
	}
	return s.blobs.PresignGet(ctx, attachment.FilePath, downloadLinkTTL)
}

// ReclaimAttachments освобождает файлы удаленных сообщений, оставшиеся после
// неудачной очистки. Возвращает число освобожденных вложений.
func (s *messageService) ReclaimAttachments(ctx context.Context) (int, error) {
	if s.blobs == nil {
		return 0, nil
	}

	orphans, err := s.messages.OrphanedAttachments(ctx, reclaimBatch)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, a := range orphans {
		if s.reclaim(ctx, a) {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// reclaim сначала удаляет файл, затем строку: строка без файла допустима
// только до следующего прохода
func (s *messageService) reclaim(ctx context.Context, a model.Attachment) bool {
	if err := s.blobs.Delete(ctx, a.FilePath); err != nil {
		logger.Log.Warn("failed to release attachment", "attachment_id", a.ID, "path", a.FilePath, "error", err)
		return false
	}
	if err := s.messages.DeleteAttachment(ctx, a.ID); err != nil {
		logger.Log.Warn("failed to delete attachment row", "attachment_id", a.ID, "error", err)
		return false
	}
	return true
}

func (s *messageService) load(ctx context.Context, messageID uint) (*model.Message, *model.Channel, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	channel, err := s.channels.GetByID(ctx, msg.ChannelID)
	if err != nil {
		return nil, nil, err
	}
	return msg, channel, nil
}

// RunReclaimer периодически вызывает ReclaimAttachments до отмены ctx
func RunReclaimer(ctx context.Context, messages MessageService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := messages.ReclaimAttachments(ctx)
			if err != nil {
				logger.Log.Warn("attachment reclaim failed", "error", err)
			} else if n > 0 {
				logger.Log.Info("attachments reclaimed", "count", n)
			}
		}
	}
}
