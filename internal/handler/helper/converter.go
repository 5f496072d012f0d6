package helper

import (
	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// QuestionOption - вариант ответа в виде объекта {id, text} для клиента.
// ID совпадает с индексом варианта: ответы участников присылают именно индексы.
type QuestionOption struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// ConvertOptionsToObjects разворачивает массив строк в массив объектов с
// 0-based идентификаторами
func ConvertOptionsToObjects(options entity.StringArray) []QuestionOption {
	converted := make([]QuestionOption, len(options))
	for i, text := range options {
		converted[i] = QuestionOption{ID: i, Text: text}
	}
	return converted
}
