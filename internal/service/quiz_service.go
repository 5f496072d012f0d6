package service

import (
	"fmt"
	"log"
	"strings"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// QuizService предоставляет методы для работы с наборами вопросов
type QuizService struct {
	quizRepo     repository.QuizRepository
	questionRepo repository.QuestionRepository
}

// NewQuizService создает новый сервис наборов вопросов
func NewQuizService(
	quizRepo repository.QuizRepository,
	questionRepo repository.QuestionRepository,
) *QuizService {
	return &QuizService{
		quizRepo:     quizRepo,
		questionRepo: questionRepo,
	}
}

// CreateQuiz создает новый набор вопросов
func (s *QuizService) CreateQuiz(ownerID uint, title, description string) (*entity.Quiz, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperrors.ErrValidation)
	}
	if len(title) > 100 {
		return nil, fmt.Errorf("%w: title is too long (max 100)", apperrors.ErrValidation)
	}

	quiz := &entity.Quiz{
		Title:       title,
		Description: strings.TrimSpace(description),
		OwnerID:     ownerID,
	}
	if err := s.quizRepo.Create(quiz); err != nil {
		return nil, err
	}

	log.Printf("[QuizService] Создан набор вопросов #%d (%s), владелец ID=%d", quiz.ID, quiz.Title, ownerID)
	return quiz, nil
}

// GetQuizByID возвращает набор по ID
func (s *QuizService) GetQuizByID(quizID uint) (*entity.Quiz, error) {
	return s.quizRepo.GetByID(quizID)
}

// GetQuizWithQuestions возвращает набор вместе с вопросами
func (s *QuizService) GetQuizWithQuestions(quizID uint) (*entity.Quiz, error) {
	return s.quizRepo.GetWithQuestions(quizID)
}

// ListQuizzes возвращает наборы пользователя с пагинацией
func (s *QuizService) ListQuizzes(ownerID uint, page, pageSize int) ([]entity.Quiz, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.quizRepo.List(ownerID, pageSize, (page-1)*pageSize)
}

// AddQuestions добавляет вопросы в набор после валидации.
// Позиции назначаются последовательно вслед за существующими вопросами.
func (s *QuizService) AddQuestions(quizID, ownerID uint, questions []entity.Question) error {
	quiz, err := s.quizRepo.GetWithQuestions(quizID)
	if err != nil {
		return err
	}
	if quiz.OwnerID != ownerID {
		return fmt.Errorf("%w: quiz belongs to another user", apperrors.ErrForbidden)
	}
	if len(questions) == 0 {
		return fmt.Errorf("%w: at least one question is required", apperrors.ErrValidation)
	}

	nextPosition := len(quiz.Questions)
	for i := range questions {
		q := &questions[i]
		if err := validateQuestion(q); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
		q.QuizID = quizID
		q.Position = nextPosition
		nextPosition++
	}

	if err := s.questionRepo.CreateBatch(questions); err != nil {
		return err
	}

	log.Printf("[QuizService] В набор #%d добавлено %d вопросов", quizID, len(questions))
	return nil
}

// DeleteQuiz удаляет набор вопросов вместе с вопросами
func (s *QuizService) DeleteQuiz(quizID, ownerID uint) error {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return err
	}
	if quiz.OwnerID != ownerID {
		return fmt.Errorf("%w: quiz belongs to another user", apperrors.ErrForbidden)
	}
	return s.quizRepo.Delete(quizID)
}

func validateQuestion(q *entity.Question) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: question text is required", apperrors.ErrValidation)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: question must have at least 2 options", apperrors.ErrValidation)
	}
	if len(q.CorrectOptions) == 0 {
		return fmt.Errorf("%w: question must have at least one correct option", apperrors.ErrValidation)
	}
	for _, idx := range q.CorrectOptions {
		if idx < 0 || idx >= len(q.Options) {
			return fmt.Errorf("%w: correct option index %d is out of range", apperrors.ErrValidation, idx)
		}
	}
	if q.TimeLimitSec <= 0 {
		return fmt.Errorf("%w: time limit must be positive", apperrors.ErrValidation)
	}
	if q.BasePoints <= 0 {
		return fmt.Errorf("%w: base points must be positive", apperrors.ErrValidation)
	}
	return nil
}
