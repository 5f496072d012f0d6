package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// MockQuizRepository реализует repository.QuizRepository
type MockQuizRepository struct {
	mock.Mock
}

func (m *MockQuizRepository) Create(quiz *entity.Quiz) error {
	args := m.Called(quiz)
	return args.Error(0)
}

func (m *MockQuizRepository) GetByID(id uint) (*entity.Quiz, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) GetWithQuestions(id uint) (*entity.Quiz, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) Update(quiz *entity.Quiz) error {
	args := m.Called(quiz)
	return args.Error(0)
}

func (m *MockQuizRepository) List(ownerID uint, limit, offset int) ([]entity.Quiz, error) {
	args := m.Called(ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) Delete(id uint) error {
	args := m.Called(id)
	return args.Error(0)
}

// MockQuestionRepository реализует repository.QuestionRepository
type MockQuestionRepository struct {
	mock.Mock
}

func (m *MockQuestionRepository) Create(question *entity.Question) error {
	args := m.Called(question)
	return args.Error(0)
}

func (m *MockQuestionRepository) CreateBatch(questions []entity.Question) error {
	args := m.Called(questions)
	return args.Error(0)
}

func (m *MockQuestionRepository) GetByID(id uint) (*entity.Question, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Question), args.Error(1)
}

func (m *MockQuestionRepository) GetByQuizID(quizID uint) ([]entity.Question, error) {
	args := m.Called(quizID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Question), args.Error(1)
}

func (m *MockQuestionRepository) Update(question *entity.Question) error {
	args := m.Called(question)
	return args.Error(0)
}

func (m *MockQuestionRepository) Delete(id uint) error {
	args := m.Called(id)
	return args.Error(0)
}

func validQuestion() entity.Question {
	return entity.Question{
		Text:           "Столица Казахстана?",
		Options:        entity.StringArray{"Алматы", "Астана", "Шымкент"},
		CorrectOptions: entity.IntArray{1},
		TimeLimitSec:   20,
		BasePoints:     100,
	}
}

func TestQuizService_CreateQuiz_Success(t *testing.T) {
	// Arrange
	quizRepo := new(MockQuizRepository)
	questionRepo := new(MockQuestionRepository)
	svc := NewQuizService(quizRepo, questionRepo)

	quizRepo.On("Create", mock.AnythingOfType("*entity.Quiz")).Run(func(args mock.Arguments) {
		args.Get(0).(*entity.Quiz).ID = 11
	}).Return(nil)

	// Act
	quiz, err := svc.CreateQuiz(5, "  Моя викторина  ", "описание")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint(11), quiz.ID)
	assert.Equal(t, "Моя викторина", quiz.Title)
	assert.Equal(t, uint(5), quiz.OwnerID)
}

func TestQuizService_CreateQuiz_EmptyTitle(t *testing.T) {
	svc := NewQuizService(new(MockQuizRepository), new(MockQuestionRepository))

	_, err := svc.CreateQuiz(5, "   ", "")

	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestQuizService_AddQuestions_AssignsPositions(t *testing.T) {
	// Arrange
	quizRepo := new(MockQuizRepository)
	questionRepo := new(MockQuestionRepository)
	svc := NewQuizService(quizRepo, questionRepo)

	quiz := &entity.Quiz{
		ID:      3,
		OwnerID: 5,
		Questions: []entity.Question{
			{ID: 1, Position: 0},
			{ID: 2, Position: 1},
		},
	}
	quizRepo.On("GetWithQuestions", uint(3)).Return(quiz, nil)

	var captured []entity.Question
	questionRepo.On("CreateBatch", mock.AnythingOfType("[]entity.Question")).Run(func(args mock.Arguments) {
		captured = args.Get(0).([]entity.Question)
	}).Return(nil)

	// Act
	err := svc.AddQuestions(3, 5, []entity.Question{validQuestion(), validQuestion()})

	// Assert: позиции идут вслед за существующими вопросами
	require.NoError(t, err)
	require.Len(t, captured, 2)
	assert.Equal(t, 2, captured[0].Position)
	assert.Equal(t, 3, captured[1].Position)
	assert.Equal(t, uint(3), captured[0].QuizID)
}

func TestQuizService_AddQuestions_ForeignQuiz(t *testing.T) {
	quizRepo := new(MockQuizRepository)
	questionRepo := new(MockQuestionRepository)
	svc := NewQuizService(quizRepo, questionRepo)

	quizRepo.On("GetWithQuestions", uint(3)).Return(&entity.Quiz{ID: 3, OwnerID: 99}, nil)

	err := svc.AddQuestions(3, 5, []entity.Question{validQuestion()})

	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	questionRepo.AssertNotCalled(t, "CreateBatch", mock.Anything)
}

func TestQuizService_AddQuestions_InvalidQuestion(t *testing.T) {
	quizRepo := new(MockQuizRepository)
	questionRepo := new(MockQuestionRepository)
	svc := NewQuizService(quizRepo, questionRepo)

	quizRepo.On("GetWithQuestions", uint(3)).Return(&entity.Quiz{ID: 3, OwnerID: 5}, nil)

	tests := []struct {
		name   string
		mutate func(*entity.Question)
	}{
		{"пустой текст", func(q *entity.Question) { q.Text = " " }},
		{"один вариант", func(q *entity.Question) { q.Options = entity.StringArray{"единственный"} }},
		{"нет правильных", func(q *entity.Question) { q.CorrectOptions = entity.IntArray{} }},
		{"индекс вне диапазона", func(q *entity.Question) { q.CorrectOptions = entity.IntArray{7} }},
		{"нулевой лимит времени", func(q *entity.Question) { q.TimeLimitSec = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuestion()
			tt.mutate(&q)

			err := svc.AddQuestions(3, 5, []entity.Question{q})

			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestQuizService_DeleteQuiz_OwnerOnly(t *testing.T) {
	quizRepo := new(MockQuizRepository)
	svc := NewQuizService(quizRepo, new(MockQuestionRepository))

	quizRepo.On("GetByID", uint(8)).Return(&entity.Quiz{ID: 8, OwnerID: 1}, nil)

	err := svc.DeleteQuiz(8, 2)

	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	quizRepo.AssertNotCalled(t, "Delete", mock.Anything)
}
