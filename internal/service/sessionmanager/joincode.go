package sessionmanager

import (
	"crypto/rand"
	"fmt"
)

// Алфавит кода присоединения: без 0/O, 1/I/L, чтобы код легко диктовался вслух
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateJoinCode возвращает случайный код присоединения длины length.
// Уникальность среди активных сессий обеспечивает partial unique index в базе;
// при коллизии вызывающий генерирует новый код и повторяет вставку.
func GenerateJoinCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultJoinCodeLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate join code: %w", err)
	}

	code := make([]byte, length)
	for i, b := range buf {
		code[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(code), nil
}
