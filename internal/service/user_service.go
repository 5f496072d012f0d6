package service

import (
	"fmt"
	"log"
	"strings"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// UserService предоставляет методы для работы с профилями пользователей
type UserService struct {
	userRepo        repository.UserRepository
	achievementRepo repository.AchievementRepository
}

// NewUserService создает новый сервис пользователей
func NewUserService(userRepo repository.UserRepository, achievementRepo repository.AchievementRepository) *UserService {
	return &UserService{
		userRepo:        userRepo,
		achievementRepo: achievementRepo,
	}
}

// Profile - профиль пользователя вместе со статистикой и достижениями
type Profile struct {
	User         *entity.User              `json:"user"`
	Stats        *entity.PlayerStats       `json:"stats"`
	Achievements []entity.AchievementGrant `json:"achievements"`
}

// GetProfile возвращает профиль пользователя со статистикой и достижениями
func (s *UserService) GetProfile(userID uint) (*Profile, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}

	stats, err := s.achievementRepo.GetStats(userID)
	if err != nil {
		log.Printf("[UserService] Ошибка получения статистики для пользователя ID=%d: %v", userID, err)
		return nil, err
	}

	grants, err := s.achievementRepo.GetByUser(userID)
	if err != nil {
		log.Printf("[UserService] Ошибка получения достижений для пользователя ID=%d: %v", userID, err)
		return nil, err
	}

	return &Profile{
		User:         user,
		Stats:        stats,
		Achievements: grants,
	}, nil
}

// UpdateProfileInput - изменяемые поля профиля
type UpdateProfileInput struct {
	Username       *string
	ProfilePicture *string
}

// UpdateProfile обновляет профиль пользователя
func (s *UserService) UpdateProfile(userID uint, input UpdateProfileInput) (*entity.User, error) {
	updates := make(map[string]interface{})

	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if username == "" {
			return nil, fmt.Errorf("%w: username cannot be empty", apperrors.ErrValidation)
		}
		if existing, err := s.userRepo.GetByUsername(username); err == nil && existing.ID != userID {
			return nil, fmt.Errorf("%w: username already taken", apperrors.ErrConflict)
		}
		updates["username"] = username
	}
	if input.ProfilePicture != nil {
		updates["profile_picture"] = *input.ProfilePicture
	}

	if len(updates) > 0 {
		if err := s.userRepo.UpdateProfile(userID, updates); err != nil {
			return nil, err
		}
	}

	return s.userRepo.GetByID(userID)
}
