package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/quizlive-api/internal/handler/dto"
	"github.com/yourusername/quizlive-api/internal/service"
)

// AuthHandler обрабатывает запросы аутентификации
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler создает новый обработчик аутентификации
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRequest представляет запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=100"`
}

// Register обрабатывает запрос на регистрацию
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.authService.RegisterUser(service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.AuthResponse{
		User:  dto.NewUserResponse(result.User),
		Token: result.Token,
	})
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login обрабатывает запрос на вход
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.authService.Login(req.Email, req.Password)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.AuthResponse{
		User:  dto.NewUserResponse(result.User),
		Token: result.Token,
	})
}

// Logout инвалидирует все выданные токены пользователя
func (h *AuthHandler) Logout(c *gin.Context) {
	userID := currentUserID(c)

	if err := h.authService.Logout(c, userID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// ChangePasswordRequest представляет запрос на смену пароля
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=100"`
}

// ChangePassword меняет пароль и возвращает новый токен
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.authService.ChangePassword(c, currentUserID(c), req.CurrentPassword, req.NewPassword)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.AuthResponse{
		User:  dto.NewUserResponse(result.User),
		Token: result.Token,
	})
}

// Me возвращает текущего пользователя
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.authService.GetUserByID(currentUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserResponse(user))
}

// WSTicket выдает короткоживущий тикет для подключения к WebSocket.
// Тикет передается в query-параметре ws-соединения вместо токена доступа,
// чтобы долгоживущий токен не оседал в логах прокси.
func (h *AuthHandler) WSTicket(c *gin.Context) {
	ticket, err := h.authService.GenerateWSTicket(currentUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}
