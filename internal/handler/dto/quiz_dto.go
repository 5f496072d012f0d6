package dto

import (
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/handler/helper"
)

// QuestionResponse представляет вопрос в формате для ответа клиенту.
// Правильные ответы не включаются: DTO отдается и участникам.
type QuestionResponse struct {
	ID           uint                    `json:"id"`
	QuizID       uint                    `json:"quiz_id"`
	Text         string                  `json:"text"`
	Options      []helper.QuestionOption `json:"options"`
	TimeLimitSec int                     `json:"time_limit_sec"`
	BasePoints   int                     `json:"base_points"`
	Position     int                     `json:"position"`
}

// NewQuestionResponse создает DTO из сущности вопроса
func NewQuestionResponse(q *entity.Question) QuestionResponse {
	return QuestionResponse{
		ID:           q.ID,
		QuizID:       q.QuizID,
		Text:         q.Text,
		Options:      helper.ConvertOptionsToObjects(q.Options),
		TimeLimitSec: q.TimeLimitSec,
		BasePoints:   q.BasePoints,
		Position:     q.Position,
	}
}

// QuizResponse представляет набор вопросов в формате для ответа клиенту
type QuizResponse struct {
	ID            uint               `json:"id"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	OwnerID       uint               `json:"owner_id"`
	QuestionCount int                `json:"question_count"`
	Questions     []QuestionResponse `json:"questions,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewQuizResponse создает DTO из сущности набора.
// includeQuestions управляет вложением списка вопросов.
func NewQuizResponse(quiz *entity.Quiz, includeQuestions bool) *QuizResponse {
	resp := &QuizResponse{
		ID:            quiz.ID,
		Title:         quiz.Title,
		Description:   quiz.Description,
		OwnerID:       quiz.OwnerID,
		QuestionCount: quiz.QuestionCount(),
		CreatedAt:     quiz.CreatedAt,
		UpdatedAt:     quiz.UpdatedAt,
	}
	if includeQuestions {
		resp.Questions = make([]QuestionResponse, 0, len(quiz.Questions))
		for i := range quiz.Questions {
			resp.Questions = append(resp.Questions, NewQuestionResponse(&quiz.Questions[i]))
		}
	}
	return resp
}
