package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/handler/dto"
	"github.com/yourusername/quizlive-api/internal/service"
)

// QuizHandler обрабатывает запросы, связанные с наборами вопросов
type QuizHandler struct {
	quizService *service.QuizService
}

// NewQuizHandler создает новый обработчик наборов вопросов
func NewQuizHandler(quizService *service.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

// CreateQuizRequest представляет запрос на создание набора
type CreateQuizRequest struct {
	Title       string `json:"title" binding:"required,min=3,max=100"`
	Description string `json:"description" binding:"omitempty,max=500"`
}

// CreateQuiz обрабатывает запрос на создание набора
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	var req CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quiz, err := h.quizService.CreateQuiz(currentUserID(c), req.Title, req.Description)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewQuizResponse(quiz, false))
}

// GetQuiz возвращает набор вместе с вопросами.
// Правильные ответы в DTO не попадают, поэтому эндпоинт безопасен и для участников.
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.quizService.GetQuizWithQuestions(quizID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, true))
}

// ListQuizzes возвращает наборы текущего пользователя
func (h *QuizHandler) ListQuizzes(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	quizzes, err := h.quizService.ListQuizzes(currentUserID(c), page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	responses := make([]*dto.QuizResponse, 0, len(quizzes))
	for i := range quizzes {
		responses = append(responses, dto.NewQuizResponse(&quizzes[i], false))
	}

	c.JSON(http.StatusOK, gin.H{"quizzes": responses, "page": page})
}

// QuestionInput представляет вопрос в запросе на добавление
type QuestionInput struct {
	Text           string   `json:"text" binding:"required,max=500"`
	Options        []string `json:"options" binding:"required,min=2,max=10"`
	CorrectOptions []int    `json:"correct_options" binding:"required,min=1"`
	TimeLimitSec   int      `json:"time_limit_sec"`
	BasePoints     int      `json:"base_points"`
}

// AddQuestionsRequest представляет запрос на добавление вопросов
type AddQuestionsRequest struct {
	Questions []QuestionInput `json:"questions" binding:"required,min=1,dive"`
}

// AddQuestions добавляет вопросы в набор
func (h *QuizHandler) AddQuestions(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	var req AddQuestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	questions := make([]entity.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		timeLimit := q.TimeLimitSec
		if timeLimit == 0 {
			timeLimit = 20
		}
		basePoints := q.BasePoints
		if basePoints == 0 {
			basePoints = 100
		}
		questions = append(questions, entity.Question{
			Text:           q.Text,
			Options:        entity.StringArray(q.Options),
			CorrectOptions: entity.IntArray(q.CorrectOptions),
			TimeLimitSec:   timeLimit,
			BasePoints:     basePoints,
		})
	}

	if err := h.quizService.AddQuestions(quizID, currentUserID(c), questions); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Questions added", "count": len(questions)})
}

// DeleteQuiz удаляет набор вопросов
func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	if err := h.quizService.DeleteQuiz(quizID, currentUserID(c)); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quiz deleted"})
}
