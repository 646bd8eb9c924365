package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/auth"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"
	"tush00nka/bbbab_teamchat/internal/presence"
	"tush00nka/bbbab_teamchat/internal/repository"
)

type RegisterInput struct {
	Username        string
	Password        string
	ConfirmPassword string
	DisplayName     string
}

type userService struct {
	userRepo     repository.UserRepository
	cache        repository.PresenceCache
	presence     PresenceReader
	onlineWindow time.Duration
	now          func() time.Time
}

// NewUserService cache может быть nil, если Redis не настроен
func NewUserService(userRepo repository.UserRepository, cache repository.PresenceCache, presence PresenceReader, onlineWindow time.Duration) UserService {
	if onlineWindow <= 0 {
		onlineWindow = 5 * time.Minute
	}
	return &userService{
		userRepo:     userRepo,
		cache:        cache,
		presence:     presence,
		onlineWindow: onlineWindow,
		now:          time.Now,
	}
}

func (s *userService) Register(ctx context.Context, input RegisterInput) (*model.User, string, error) {
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" || input.Password == "" {
		return nil, "", apperr.Invalidf("username and password are required")
	}
	if len(input.Username) > 64 {
		return nil, "", apperr.Invalidf("username must be at most 64 characters")
	}
	if input.Password != input.ConfirmPassword {
		return nil, "", apperr.Invalidf("passwords do not match")
	}

	exists, err := s.userRepo.UsernameExists(ctx, input.Username)
	if err != nil {
		return nil, "", err
	}
	if exists {
		return nil, "", apperr.Conflictf("user with username %s exists", input.Username)
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Unavailable, "failed to generate password hash")
	}

	user := &model.User{
		Username:    input.Username,
		Password:    hash,
		DisplayName: strings.TrimSpace(input.DisplayName),
	}
	// гонка двух регистраций одного имени решается уникальным индексом
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := auth.GenerateToken(user.ID)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Unavailable, "failed to generate token")
	}

	user.SanitizePassword()
	return user, token, nil
}

func (s *userService) Login(ctx context.Context, username, password string) (*model.User, string, error) {
	if username == "" || password == "" {
		return nil, "", apperr.Invalidf("username and password are required")
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, "", apperr.New(apperr.Unauthenticated, "invalid username or password")
		}
		return nil, "", err
	}
	if !auth.CheckPasswordHash(password, user.Password) {
		return nil, "", apperr.New(apperr.Unauthenticated, "invalid username or password")
	}

	token, err := auth.GenerateToken(user.ID)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Unavailable, "failed to generate token")
	}

	user.SanitizePassword()
	return user, token, nil
}

func (s *userService) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	if id == 0 {
		return nil, apperr.Invalidf("invalid user ID")
	}

	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.SanitizePassword()
	return user, nil
}

func (s *userService) SearchUsers(ctx context.Context, prompt string) ([]model.User, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apperr.Invalidf("search prompt is required")
	}
	return s.userRepo.Search(ctx, prompt, 20)
}

// Online проекция присутствия: живые соединения этого узла, недавняя активность
// по last_seen_at и, если есть Redis, активность на других узлах
func (s *userService) Online(ctx context.Context) ([]model.User, error) {
	since := s.now().Add(-s.onlineWindow)

	var ids []uint
	for _, member := range s.presence.Roster(presence.GlobalScope).Members {
		ids = append(ids, member.ID)
	}

	seen, err := s.userRepo.RecentlySeen(ctx, since)
	if err != nil {
		return nil, err
	}
	ids = append(ids, seen...)

	if s.cache != nil {
		active, err := s.cache.ActiveSince(ctx, since)
		if err != nil {
			// зеркало в Redis только дополняет проекцию
			logger.Log.Warn("presence cache unavailable", "error", err)
		} else {
			ids = append(ids, active...)
		}
	}

	slices.Sort(ids)
	ids = slices.Compact(ids)

	users, err := s.userRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].IsOnline = true
	}
	return users, nil
}

// Touch фиксирует активность пользователя в базе и в зеркале Redis
func (s *userService) Touch(ctx context.Context, userID uint) error {
	now := s.now()
	if err := s.userRepo.TouchLastSeen(ctx, userID, now); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Touch(ctx, userID, now); err != nil {
			logger.Log.Warn("presence cache touch failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// PruneActivity убирает из зеркала Redis отметки старше окна онлайна
func (s *userService) PruneActivity(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Prune(ctx, s.now().Add(-s.onlineWindow))
}

// OnPresenceChange вызывается координатором на каждое изменение. Запись в
// хранилище уходит в отдельную горутину, чтобы не задерживать рассылку.
func (s *userService) OnPresenceChange(change presence.Change) {
	if change.Scope != presence.GlobalScope {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.Touch(ctx, change.Member.ID); err != nil {
			logger.Log.Warn("failed to record last seen", "user_id", change.Member.ID, "error", err)
		}
	}()
}
