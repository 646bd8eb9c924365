package handler

import (
	"net/http"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/httputils"
	"tush00nka/bbbab_teamchat/internal/service"

	"github.com/gorilla/mux"
)

type UserHandler struct {
	userService service.UserService
}

func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterPublicRoutes маршруты, доступные без токена
func (c *UserHandler) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/login", c.loginUser).Methods("POST", "OPTIONS")
	router.HandleFunc("/register", c.registerUser).Methods("POST", "OPTIONS")
}

func (c *UserHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/user/{id:[0-9]+}", c.getUser).Methods("GET", "OPTIONS")
	router.HandleFunc("/search/{prompt}", c.searchUser).Methods("GET", "OPTIONS")
	router.HandleFunc("/users/online", c.onlineUsers).Methods("GET", "OPTIONS")
}

type RegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	DisplayName     string `json:"display_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

type UsersResponse struct {
	Data []model.User `json:"data"`
}

// @Summary Register
// @Description Register an account
// @ID register
// @Accept json
// @Produce json
// @Success 201 {object} TokenResponse
// @Failure 409 {object} httputils.ErrorResponse
// @Failure 422 {object} httputils.ErrorResponse
// @Param registerData body RegisterRequest true "Register data"
// @Router /register [post]
func (c *UserHandler) registerUser(w http.ResponseWriter, r *http.Request) {
	var request RegisterRequest
	if err := decodeJSON(r, &request); err != nil {
		httputils.WriteError(w, err)
		return
	}

	user, token, err := c.userService.Register(r.Context(), service.RegisterInput{
		Username:        request.Username,
		Password:        request.Password,
		ConfirmPassword: request.ConfirmPassword,
		DisplayName:     request.DisplayName,
	})
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusCreated, TokenResponse{Token: token, User: user})
}

// @Summary Login
// @Description Login into account
// @ID login
// @Accept json
// @Produce json
// @Success 200 {object} TokenResponse
// @Failure 401 {object} httputils.ErrorResponse
// @Param loginData body LoginRequest true "Login data"
// @Router /login [post]
func (c *UserHandler) loginUser(w http.ResponseWriter, r *http.Request) {
	var request LoginRequest
	if err := decodeJSON(r, &request); err != nil {
		httputils.WriteError(w, err)
		return
	}

	user, token, err := c.userService.Login(r.Context(), request.Username, request.Password)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, TokenResponse{Token: token, User: user})
}

// @Summary Get user
// @Description Get user by id
// @ID get-user
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} model.User
// @Failure 404 {object} httputils.ErrorResponse
// @Router /user/{id} [get]
func (c *UserHandler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	user, err := c.userService.GetUserByID(r.Context(), id)
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, user)
}

// @Summary Search users
// @Description Search users by username
// @ID search-user
// @Produce json
// @Param prompt path string true "Search prompt"
// @Success 200 {object} UsersResponse
// @Router /search/{prompt} [get]
func (c *UserHandler) searchUser(w http.ResponseWriter, r *http.Request) {
	users, err := c.userService.SearchUsers(r.Context(), mux.Vars(r)["prompt"])
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, UsersResponse{Data: users})
}

// @Summary Online users
// @Description Users connected now or active within the online window
// @ID online-users
// @Produce json
// @Success 200 {object} UsersResponse
// @Router /users/online [get]
func (c *UserHandler) onlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := c.userService.Online(r.Context())
	if err != nil {
		httputils.WriteError(w, err)
		return
	}

	httputils.ResponseJSON(w, http.StatusOK, UsersResponse{Data: users})
}
