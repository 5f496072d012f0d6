package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/quizlive-api/internal/handler/dto"
	"github.com/yourusername/quizlive-api/internal/service"
)

// UserHandler обрабатывает запросы, связанные с профилями пользователей
type UserHandler struct {
	userService *service.UserService
}

// NewUserHandler создает новый обработчик пользователей
func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetProfile возвращает профиль пользователя со статистикой и достижениями
func (h *UserHandler) GetProfile(c *gin.Context) {
	profile, err := h.userService.GetProfile(currentUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewProfileResponse(profile.User, profile.Stats, profile.Achievements))
}

// UpdateProfileRequest представляет запрос на обновление профиля
type UpdateProfileRequest struct {
	Username       *string `json:"username" binding:"omitempty,min=3,max=50"`
	ProfilePicture *string `json:"profile_picture" binding:"omitempty,max=255"`
}

// UpdateProfile обновляет профиль пользователя
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.UpdateProfile(currentUserID(c), service.UpdateProfileInput{
		Username:       req.Username,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserResponse(user))
}
