package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/auth"
	"tush00nka/bbbab_teamchat/internal/pkg/httputils"
	"tush00nka/bbbab_teamchat/internal/repository"

	"github.com/gorilla/mux"
)

type PongResponse struct {
	Message string `json:"message"`
}

// MessageResponse ответ с текстом для клиента
type MessageResponse struct {
	Message string `json:"message"`
}

// Paginated страница списка
type Paginated[T any] struct {
	Data        []T   `json:"data"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}

func paginated[T any](items []T, total int64, page repository.Page, defaultSize int) Paginated[T] {
	if items == nil {
		items = []T{}
	}
	if page.Number <= 0 {
		page.Number = 1
	}
	if page.Size <= 0 || page.Size > 100 {
		page.Size = defaultSize
	}
	last := int((total + int64(page.Size) - 1) / int64(page.Size))
	if last < 1 {
		last = 1
	}
	return Paginated[T]{Data: items, CurrentPage: page.Number, PerPage: page.Size, Total: total, LastPage: last}
}

// Ping
// @Summary Пингануть свервер
// @Description Пинганиуть сервер
// @Tags system
// @Produce json
// @Success 200 {object} PongResponse
// @Failure 404
// @Router /ping [get]
func Ping(w http.ResponseWriter, r *http.Request) {
	httputils.ResponseJSON(w, 200, PongResponse{Message: "Pong"})
}

// RequireAuth пропускает только запросы с валидным токеном и кладет id
// пользователя в контекст
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.GetCurrentUser(r)
		if err != nil {
			httputils.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

func currentUserID(r *http.Request) uint {
	userID, _ := auth.UserIDFrom(r.Context())
	return userID
}

func pathID(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalidf("invalid %s", name)
	}
	return uint(id), nil
}

func pageOf(r *http.Request) repository.Page {
	number, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	return repository.Page{Number: number, Size: size}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalidf("invalid request format")
	}
	return nil
}
