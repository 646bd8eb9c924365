package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"tush00nka/bbbab_teamchat/internal/handler"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Handlers обработчики HTTP API; nil-поля не регистрируются
type Handlers struct {
	User         *handler.UserHandler
	Channel      *handler.ChannelHandler
	Message      *handler.MessageHandler
	Notification *handler.NotificationHandler
	Realtime     *handler.RealtimeHandler
	Health       *handler.HealthHandler
}

type Server struct {
	router  *mux.Router
	origins []string
}

func NewServer(h Handlers, metrics http.Handler, origins []string) *Server {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	// Публичные маршруты
	api.HandleFunc("/ping", handler.Ping).Methods("GET", "OPTIONS")
	if h.User != nil {
		h.User.RegisterPublicRoutes(api)
	}
	if h.Health != nil {
		h.Health.RegisterRoutes(api)
	}

	// Остальное только с токеном
	protected := api.NewRoute().Subrouter()
	protected.Use(handler.RequireAuth)
	if h.User != nil {
		h.User.RegisterRoutes(protected)
	}
	if h.Channel != nil {
		h.Channel.RegisterRoutes(protected)
	}
	if h.Message != nil {
		h.Message.RegisterRoutes(protected)
	}
	if h.Notification != nil {
		h.Notification.RegisterRoutes(protected)
	}
	if h.Realtime != nil {
		h.Realtime.RegisterRoutes(protected)
	}

	if metrics != nil {
		router.Handle("/metrics", metrics).Methods("GET")
	}

	// Настройка Swagger
	swaggerHandler := httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"), // Важно: относительный путь
	)

	// Явно обслуживаем doc.json
	router.HandleFunc("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./docs/swagger.json")
	})
	router.PathPrefix("/swagger/").Handler(swaggerHandler)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{router: router, origins: origins}
}

// Handler роутер с CORS и журналом запросов
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With"}),
	)
	return cors(handlers.LoggingHandler(os.Stdout, s.router))
}

// Run обслуживает запросы до отмены ctx, затем дает активным запросам завершиться
func (s *Server) Run(ctx context.Context, port string) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		Addr:         ":" + port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Log.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}
