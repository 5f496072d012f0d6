package repository

import "errors"

var (
	// ErrVersionConflict означает, что версия сессии в базе изменилась
	// с момента чтения. Вызывающий должен перечитать сессию и повторить.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrJoinCodeTaken означает, что код присоединения уже занят другой активной сессией.
	ErrJoinCodeTaken = errors.New("join code already in use by an active session")
)
