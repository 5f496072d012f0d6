package repository

import (
	"time"
)

// CacheRepository определяет методы для работы с кешем
type CacheRepository interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string) (string, error)
	Delete(key string) error
	Increment(key string) (int64, error)
	SetJSON(key string, value interface{}, expiration time.Duration) error
	GetJSON(key string, dest interface{}) error
	Exists(key string) (bool, error)
	ExpireAt(key string, expiration time.Time) error
	// SetNX устанавливает ключ только если он отсутствует.
	// Используется для идемпотентных команд и одноразовой постановки фактов в очередь.
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)

	// Операции над множествами (присутствие участников в сессии)
	SAdd(key string, members ...interface{}) error
	SRem(key string, members ...interface{}) error
	SMembers(key string) ([]string, error)

	// Операции над списками (очередь фактов для достижений)
	LPush(key string, values ...interface{}) error
	// BRPop блокирующе снимает элемент с конца списка.
	// При истечении timeout возвращает ErrNotFound.
	BRPop(timeout time.Duration, key string) (string, error)
	// BRPopLPush блокирующе переносит элемент с конца source в начало
	// destination одной атомарной операцией. Элемент остается в
	// destination, пока потребитель явно не удалит его через LRem:
	// при падении между снятием и обработкой факт не теряется.
	BRPopLPush(timeout time.Duration, source, destination string) (string, error)
	// RPopLPush - неблокирующий вариант; ErrNotFound на пустом source
	RPopLPush(source, destination string) (string, error)
	// LRem удаляет count вхождений value из списка
	LRem(key string, count int64, value interface{}) error
}
