package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized используется для ошибок авторизации (неверный токен, нет прав).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden используется, когда у пользователя недостаточно прав для действия.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation используется для ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrExpiredToken используется, когда токен (например, WS-тикет) истек.
	ErrExpiredToken = errors.New("token is expired")

	// ErrConflict используется для конфликтов состояния.
	ErrConflict = errors.New("resource state conflict")
)

// Ошибки жизненного цикла сессии
var (
	// ErrInvalidStateTransition возвращается, когда команда не допустима в текущем
	// состоянии сессии. Состояние при этом не меняется.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrDeadlineExceeded возвращается, когда ответ пришел после блокировки раунда.
	// Такой ответ отбрасывается и засчитывается как отсутствие ответа.
	ErrDeadlineExceeded = errors.New("submission deadline exceeded")

	// ErrSessionNotFound возвращается, когда сессия не существует или уже закрыта.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidJoinCode возвращается, когда код присоединения не разрешается
	// в активную сессию.
	ErrInvalidJoinCode = errors.New("invalid join code")

	// ErrNameTaken возвращается при коллизии имени участника внутри одной сессии.
	ErrNameTaken = errors.New("display name already taken in this session")

	// ErrDuplicateSubmission возвращается при повторном ответе на тот же раунд.
	// Первый принятый ответ не перезаписывается.
	ErrDuplicateSubmission = errors.New("participant already answered this round")
)
