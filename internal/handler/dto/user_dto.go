package dto

import (
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// UserResponse представляет пользователя в формате для ответа клиенту
type UserResponse struct {
	ID             uint      `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewUserResponse создает DTO из сущности пользователя
func NewUserResponse(user *entity.User) *UserResponse {
	return &UserResponse{
		ID:             user.ID,
		Username:       user.Username,
		Email:          user.Email,
		ProfilePicture: user.ProfilePicture,
		CreatedAt:      user.CreatedAt,
	}
}

// AuthResponse - ответ на успешную аутентификацию
type AuthResponse struct {
	User  *UserResponse `json:"user"`
	Token string        `json:"token"`
}

// PlayerStatsResponse - накопленная статистика игрока
type PlayerStatsResponse struct {
	SessionsCompleted int   `json:"sessions_completed"`
	TotalScore        int64 `json:"total_score"`
	TotalCorrect      int   `json:"total_correct"`
	TotalAnswered     int   `json:"total_answered"`
	PerfectSessions   int   `json:"perfect_sessions"`
	FirstPlaces       int   `json:"first_places"`
}

// AchievementResponse - выданное достижение
type AchievementResponse struct {
	Rule      string    `json:"rule"`
	GrantedAt time.Time `json:"granted_at"`
}

// ProfileResponse - профиль пользователя со статистикой и достижениями
type ProfileResponse struct {
	User         *UserResponse         `json:"user"`
	Stats        *PlayerStatsResponse  `json:"stats"`
	Achievements []AchievementResponse `json:"achievements"`
}

// NewProfileResponse собирает ответ профиля
func NewProfileResponse(user *entity.User, stats *entity.PlayerStats, grants []entity.AchievementGrant) *ProfileResponse {
	achievements := make([]AchievementResponse, 0, len(grants))
	for _, g := range grants {
		achievements = append(achievements, AchievementResponse{
			Rule:      g.Rule,
			GrantedAt: g.GrantedAt,
		})
	}
	return &ProfileResponse{
		User: NewUserResponse(user),
		Stats: &PlayerStatsResponse{
			SessionsCompleted: stats.SessionsCompleted,
			TotalScore:        stats.TotalScore,
			TotalCorrect:      stats.TotalCorrect,
			TotalAnswered:     stats.TotalAnswered,
			PerfectSessions:   stats.PerfectSessions,
			FirstPlaces:       stats.FirstPlaces,
		},
		Achievements: achievements,
	}
}
