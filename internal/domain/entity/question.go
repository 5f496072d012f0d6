package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray - пользовательский тип для работы с JSONB
type StringArray []string

// Scan реализует интерфейс sql.Scanner для StringArray
// Используется GORM для чтения JSONB данных из базы
func (o *StringArray) Scan(value interface{}) error {
	// Обработка NULL значений из базы данных
	if value == nil {
		*o = StringArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	// Обработка пустого массива байтов
	if len(bytes) == 0 {
		*o = StringArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для StringArray
// Используется GORM для записи StringArray в JSONB в базе
func (o StringArray) Value() (driver.Value, error) {
	if o == nil || len(o) == 0 {
		return []byte("[]"), nil // Возвращаем пустой JSON массив вместо null
	}
	return json.Marshal(o)
}

// IntArray - пользовательский тип для хранения индексов вариантов в JSONB
type IntArray []int

// Scan реализует интерфейс sql.Scanner для IntArray
func (o *IntArray) Scan(value interface{}) error {
	if value == nil {
		*o = IntArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*o = IntArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для IntArray
func (o IntArray) Value() (driver.Value, error) {
	if o == nil || len(o) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(o)
}

// Question представляет вопрос в викторине.
// Правильным может быть несколько вариантов; ответ участника корректен только
// при точном совпадении множества выбранных вариантов с CorrectOptions.
type Question struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	QuizID         uint        `gorm:"not null;index" json:"quiz_id"`
	Text           string      `gorm:"size:500;not null" json:"text"`
	Options        StringArray `gorm:"type:jsonb;not null" json:"options"`
	CorrectOptions IntArray    `gorm:"type:jsonb;not null" json:"-"` // Скрыто от клиента
	TimeLimitSec   int         `gorm:"not null;default:20" json:"time_limit_sec"`
	BasePoints     int         `gorm:"not null;default:100" json:"base_points"`
	Position       int         `gorm:"not null;default:0" json:"position"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// IsCorrectSet проверяет точное совпадение множества выбранных вариантов.
// Порядок и дубликаты в selected не влияют на результат.
func (q *Question) IsCorrectSet(selected []int) bool {
	correct := make(map[int]bool, len(q.CorrectOptions))
	for _, idx := range q.CorrectOptions {
		correct[idx] = true
	}
	chosen := make(map[int]bool, len(selected))
	for _, idx := range selected {
		chosen[idx] = true
	}
	if len(chosen) != len(correct) {
		return false
	}
	for idx := range chosen {
		if !correct[idx] {
			return false
		}
	}
	return true
}

// CorrectCount возвращает число выбранных вариантов, входящих в множество правильных
func (q *Question) CorrectCount(selected []int) int {
	correct := make(map[int]bool, len(q.CorrectOptions))
	for _, idx := range q.CorrectOptions {
		correct[idx] = true
	}
	seen := make(map[int]bool, len(selected))
	count := 0
	for _, idx := range selected {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		if correct[idx] {
			count++
		}
	}
	return count
}

// IncorrectCount возвращает число выбранных вариантов вне множества правильных
func (q *Question) IncorrectCount(selected []int) int {
	correct := make(map[int]bool, len(q.CorrectOptions))
	for _, idx := range q.CorrectOptions {
		correct[idx] = true
	}
	seen := make(map[int]bool, len(selected))
	count := 0
	for _, idx := range selected {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		if !correct[idx] {
			count++
		}
	}
	return count
}

// OptionsCount возвращает количество вариантов ответа
func (q *Question) OptionsCount() int {
	return len(q.Options)
}

// IsValidSelection проверяет, что все выбранные индексы попадают в диапазон вариантов
func (q *Question) IsValidSelection(selected []int) bool {
	for _, idx := range selected {
		if idx < 0 || idx >= len(q.Options) {
			return false
		}
	}
	return true
}
