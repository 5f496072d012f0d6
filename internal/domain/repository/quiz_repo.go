package repository

import (
	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// QuizRepository определяет методы для работы с наборами вопросов
type QuizRepository interface {
	Create(quiz *entity.Quiz) error
	GetByID(id uint) (*entity.Quiz, error)
	// GetWithQuestions загружает набор вместе с вопросами,
	// отсортированными по position
	GetWithQuestions(id uint) (*entity.Quiz, error)
	Update(quiz *entity.Quiz) error
	List(ownerID uint, limit, offset int) ([]entity.Quiz, error)
	Delete(id uint) error
}
