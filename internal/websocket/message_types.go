package websocket

// Типы событий жизненного цикла сессии
const (
	// SESSION_STATE несет полный снапшот состояния сессии.
	// Рассылается после каждого успешного перехода.
	SESSION_STATE = "session:state"

	// SESSION_JOINED сообщает о присоединении участника
	SESSION_JOINED = "session:joined"

	// SESSION_LEFT сообщает о выходе участника
	SESSION_LEFT = "session:left"

	// ROUND_STARTED сообщает об открытии нового раунда
	ROUND_STARTED = "round:started"

	// ROUND_LOCKED сообщает о блокировке приема ответов
	ROUND_LOCKED = "round:locked"

	// SESSION_RESULTS сообщает о публикации итогов
	SESSION_RESULTS = "session:results"

	// SESSION_CLOSED сообщает о закрытии сессии
	SESSION_CLOSED = "session:closed"

	// ACHIEVEMENT_GRANTED сообщает о выдаче достижения
	ACHIEVEMENT_GRANTED = "achievement:granted"
)

// Типы сообщений, связанные с авторизацией
const (
	// TOKEN_EXPIRE_SOON уведомляет о скором истечении срока действия токена
	TOKEN_EXPIRE_SOON = "TOKEN_EXPIRE_SOON"

	// TOKEN_EXPIRED уведомляет об истечении срока действия токена
	TOKEN_EXPIRED = "TOKEN_EXPIRED"
)
