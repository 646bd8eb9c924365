package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/policy"
	"tush00nka/bbbab_teamchat/internal/presence"
	"tush00nka/bbbab_teamchat/internal/repository"
	"tush00nka/bbbab_teamchat/internal/pkg/auth"
	"tush00nka/bbbab_teamchat/internal/service"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testAPI struct {
	router      *mux.Router
	coordinator *presence.Coordinator
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:handler_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return db
}

// newTestAPI собирает обработчики поверх sqlite и настоящего диспетчера без транспорта
func newTestAPI(t *testing.T, blobs service.BlobStore) *testAPI {
	t.Helper()
	auth.SetKey("handler-test-key")

	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	channels := repository.NewChannelRepository(db)
	messages := repository.NewMessageRepository(db)
	members := repository.NewMembershipRepository(db)
	access := policy.New(members)

	coordinator := presence.New(presence.Config{}, nil)
	t.Cleanup(coordinator.Close)

	dispatcher := broadcast.NewDispatcher(channels, users, access, nil)

	notificationService := service.NewNotificationService(repository.NewNotificationRepository(db), dispatcher)
	userService := service.NewUserService(users, nil, coordinator, time.Minute)
	channelService := service.NewChannelService(channels, members, users, access, blobs, dispatcher)
	messageService := service.NewMessageService(messages, channels, members, users, access, blobs, notificationService, dispatcher)
	reactionService := service.NewReactionService(repository.NewReactionRepository(db), messages, channels, users, access, dispatcher)
	typingService := service.NewTypingService(channels, access, coordinator, dispatcher, 10)

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", Ping).Methods("GET")

	userHandler := NewUserHandler(userService)
	userHandler.RegisterPublicRoutes(api)

	protected := api.NewRoute().Subrouter()
	protected.Use(RequireAuth)
	userHandler.RegisterRoutes(protected)
	NewChannelHandler(channelService, typingService).RegisterRoutes(protected)
	NewMessageHandler(messageService, reactionService).RegisterRoutes(protected)
	NewNotificationHandler(notificationService).RegisterRoutes(protected)
	NewRealtimeHandler(dispatcher, nil, userService).RegisterRoutes(protected)

	return &testAPI{router: router, coordinator: coordinator}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, token)
}

func (a *testAPI) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

type account struct {
	ID    uint
	Token string
}

func (a *testAPI) register(t *testing.T, username string) account {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/register", "", RegisterRequest{
		Username:        username,
		Password:        "secret-" + username,
		ConfirmPassword: "secret-" + username,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp TokenResponse
	decode(t, rr, &resp)
	return account{ID: resp.User.ID, Token: resp.Token}
}

func (a *testAPI) createChannel(t *testing.T, owner account, name, visibility string) uint {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/channels", owner.Token, map[string]string{"name": name, "type": visibility})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp ChannelResponse
	decode(t, rr, &resp)
	return resp.Channel.ID
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func errorOf(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	decode(t, rr, &body)
	return body
}
