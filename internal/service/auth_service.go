package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/pkg/auth"
)

// AuthService предоставляет методы для работы с аутентификацией и пользователями
type AuthService struct {
	userRepo   repository.UserRepository
	jwtService *auth.JWTService
}

// RegisterInput содержит данные для регистрации
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// AuthResult - результат успешной аутентификации
type AuthResult struct {
	User  *entity.User
	Token string
}

// NewAuthService создает новый сервис аутентификации
func NewAuthService(userRepo repository.UserRepository, jwtService *auth.JWTService) (*AuthService, error) {
	if userRepo == nil {
		return nil, fmt.Errorf("UserRepository is required for AuthService")
	}
	if jwtService == nil {
		return nil, fmt.Errorf("JWTService is required for AuthService")
	}
	return &AuthService{
		userRepo:   userRepo,
		jwtService: jwtService,
	}, nil
}

// RegisterUser регистрирует нового пользователя и сразу выдает токен доступа
func (s *AuthService) RegisterUser(input RegisterInput) (*AuthResult, error) {
	input.Email = normalizeEmail(input.Email)
	input.Username = strings.TrimSpace(input.Username)

	if input.Username == "" {
		return nil, fmt.Errorf("%w: username is required", apperrors.ErrValidation)
	}
	if input.Email == "" || !strings.Contains(input.Email, "@") {
		return nil, fmt.Errorf("%w: invalid email", apperrors.ErrValidation)
	}
	if len(input.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", apperrors.ErrValidation)
	}

	// Проверяем уникальность email и username до вставки, чтобы вернуть
	// понятную ошибку; гонка закрывается уникальными индексами в БД
	if _, err := s.userRepo.GetByEmail(input.Email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", apperrors.ErrConflict)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if _, err := s.userRepo.GetByUsername(input.Username); err == nil {
		return nil, fmt.Errorf("%w: username already taken", apperrors.ErrConflict)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	user := &entity.User{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password, // хешируется в BeforeSave
	}
	if err := s.userRepo.Create(user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("%w: email or username already taken", apperrors.ErrConflict)
		}
		return nil, err
	}

	token, err := s.jwtService.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	log.Printf("[AuthService] Зарегистрирован пользователь ID=%d, username=%s", user.ID, user.Username)
	return &AuthResult{User: user, Token: token}, nil
}

// Login проверяет учетные данные и выдает токен доступа
func (s *AuthService) Login(email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid email or password", apperrors.ErrUnauthorized)
		}
		return nil, err
	}

	if !user.CheckPassword(password) {
		log.Printf("[AuthService] Неверный пароль для пользователя ID=%d", user.ID)
		return nil, fmt.Errorf("%w: invalid email or password", apperrors.ErrUnauthorized)
	}

	token, err := s.jwtService.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, Token: token}, nil
}

// Logout инвалидирует все ранее выданные токены пользователя
func (s *AuthService) Logout(ctx context.Context, userID uint) error {
	return s.jwtService.InvalidateTokensForUser(ctx, userID)
}

// ChangePassword меняет пароль и инвалидирует старые токены
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword string) (*AuthResult, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}

	if !user.CheckPassword(oldPassword) {
		return nil, fmt.Errorf("%w: current password is incorrect", apperrors.ErrUnauthorized)
	}
	if len(newPassword) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", apperrors.ErrValidation)
	}

	if err := s.userRepo.UpdatePassword(userID, newPassword); err != nil {
		return nil, err
	}

	// Старые токены перестают работать, выдаем свежий
	if err := s.jwtService.InvalidateTokensForUser(ctx, userID); err != nil {
		log.Printf("[AuthService] Ошибка инвалидации токенов при смене пароля для ID=%d: %v", userID, err)
	}

	token, err := s.jwtService.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token}, nil
}

// GenerateWSTicket выдает короткоживущий тикет для подключения к WebSocket
func (s *AuthService) GenerateWSTicket(userID uint) (string, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return "", err
	}
	return s.jwtService.GenerateWSTicket(user.ID, user.Email)
}

// GetUserByID возвращает пользователя по ID
func (s *AuthService) GetUserByID(userID uint) (*entity.User, error) {
	return s.userRepo.GetByID(userID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
