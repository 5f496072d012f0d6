package entity

import (
	"time"
)

// InvalidToken фиксирует момент, с которого все ранее выпущенные токены
// пользователя считаются отозванными (смена пароля, выход со всех устройств)
type InvalidToken struct {
	UserID           uint      `gorm:"primaryKey" json:"user_id"`
	InvalidationTime time.Time `gorm:"not null" json:"invalidation_time"`
}

// TableName задает имя таблицы для GORM
func (InvalidToken) TableName() string {
	return "invalid_tokens"
}

// IsTokenInvalidAt сообщает, отозван ли токен с данным временем выпуска.
// Токены, выпущенные строго до InvalidationTime, недействительны; выпущенный
// в ту же секунду токен остается рабочим.
func (it *InvalidToken) IsTokenInvalidAt(issuedAt time.Time) bool {
	return issuedAt.Before(it.InvalidationTime)
}
