package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/handler/dto"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/service"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

// SessionHandler обрабатывает REST-запросы жизненного цикла живых сессий
type SessionHandler struct {
	sessionManager *service.SessionManager
}

// NewSessionHandler создает новый обработчик сессий
func NewSessionHandler(sessionManager *service.SessionManager) *SessionHandler {
	return &SessionHandler{sessionManager: sessionManager}
}

// hostCommands - команды, которые клиент может отправить через REST.
// Внутренние команды (lock_round, reveal_round, close_results) порождаются
// только таймерами и подсчетом очков на сервере.
var hostCommands = map[string]sessionmanager.Command{
	"open_lobby":    sessionmanager.CmdOpenLobby,
	"start":         sessionmanager.CmdStart,
	"next_question": sessionmanager.CmdNextQuestion,
	"end_session":   sessionmanager.CmdEndSession,
}

// CreateSession создает сессию для набора вопросов текущего пользователя
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionManager.CreateSession(
		c.Request.Context(), req.QuizID, currentUserID(c), req.HostPasscode, req.PartialCredit, req.SpeedBonus)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewSessionResponse(session))
}

// ResolveJoinCode находит открытую сессию по коду присоединения.
// Эндпоинт ограничен по частоте запросов против перебора кодов.
func (h *SessionHandler) ResolveJoinCode(c *gin.Context) {
	joinCode := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	if joinCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "join code is required"})
		return
	}

	session, err := h.sessionManager.ResolveJoinCode(joinCode)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSessionResponse(session))
}

// GetSnapshot возвращает полный снимок состояния сессии.
// Это pull-канал синхронизации: клиент, пропустивший push-события,
// восстанавливает состояние одним запросом.
func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(uint)

	snapshot, err := h.sessionManager.GetSnapshot(c.Request.Context(), sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// Join добавляет участника в лобби сессии.
// Авторизация опциональна: анонимные участники получают UserID = 0.
func (h *SessionHandler) Join(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(uint)

	var req dto.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participant, snapshot, err := h.sessionManager.Join(
		c.Request.Context(), sessionID, currentUserID(c), req.DisplayName)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"participant": dto.NewParticipantResponse(participant),
		"snapshot":    snapshot,
	})
}

// Leave помечает участника покинувшим сессию
func (h *SessionHandler) Leave(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(uint)

	participantID, err := strconv.ParseUint(c.Param("participantId"), 10, 32)
	if err != nil || participantID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant ID"})
		return
	}

	if err := h.sessionManager.Leave(c.Request.Context(), sessionID, uint(participantID)); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Left session"})
}

// SubmitAnswer принимает ответ участника на активный раунд.
// Повтор с тем же токеном возвращает тот же результат без повторного начисления.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(uint)

	var req dto.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	score, err := h.sessionManager.SubmitAnswer(
		c.Request.Context(), sessionID, req.ParticipantID, req.SelectedOptions, req.Token)
	if err != nil {
		// Опоздание - штатный исход раунда, а не ошибка протокола:
		// ответ учтен как отсутствующий, клиент получает причину
		if errors.Is(err, apperrors.ErrDeadlineExceeded) {
			c.JSON(http.StatusOK, dto.SubmitAnswerResponse{
				Accepted: false,
				Reason:   "deadline_exceeded",
			})
			return
		}
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SubmitAnswerResponse{
		Accepted:   true,
		IsCorrect:  score.IsCorrect,
		BaseScore:  score.BaseScore,
		BonusScore: score.BonusScore,
		TotalScore: score.Total(),
	})
}

// Command применяет команду ведущего к сессии.
// Право на команду дает либо учетная запись ведущего, либо код ведущего.
func (h *SessionHandler) Command(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(uint)

	var req dto.SessionCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, ok := hostCommands[req.Command]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown command: %s", req.Command)})
		return
	}

	session, err := h.sessionManager.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if err := h.authorizeHost(c, session, req.HostPasscode); err != nil {
		handleServiceError(c, err)
		return
	}

	snapshot, err := h.sessionManager.Dispatch(c.Request.Context(), sessionID, cmd, req.Token)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// authorizeHost проверяет право управлять сессией: совпадение учетной записи
// ведущего либо верный код ведущего (для ведущих без учетной записи)
func (h *SessionHandler) authorizeHost(c *gin.Context, session *entity.Session, passcode string) error {
	userID := currentUserID(c)
	if userID != 0 && userID == session.HostUserID {
		return nil
	}
	if passcode != "" {
		return h.sessionManager.VerifyHostPasscode(session, passcode)
	}
	return fmt.Errorf("%w: only the session host can manage this session", apperrors.ErrForbidden)
}

// ListSessions возвращает сессии текущего ведущего с фильтром по статусу
func (h *SessionHandler) ListSessions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	status := c.Query("status")

	sessions, total, err := h.sessionManager.ListSessions(currentUserID(c), status, pageSize, (page-1)*pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	responses := make([]*dto.SessionResponse, 0, len(sessions))
	for i := range sessions {
		responses = append(responses, dto.NewSessionResponse(&sessions[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": responses,
		"total":    total,
		"page":     page,
	})
}

// Results возвращает итоговую таблицу сессии
func (h *SessionHandler) Results(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(uint)

	session, rows, err := h.sessionManager.GetResults(c.Request.Context(), sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": dto.NewSessionResponse(session),
		"results": rows,
	})
}

// Statistics возвращает сводку по раундам: сколько отвечали, сколько верно
// и средняя задержка ответа
func (h *SessionHandler) Statistics(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(uint)

	stats, err := h.sessionManager.GetStatistics(c.Request.Context(), sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Export выгружает итоговую таблицу сессии в файл.
// Формат задается параметром ?format=xlsx|csv (по умолчанию xlsx).
// Выгрузка доступна только ведущему сессии.
func (h *SessionHandler) Export(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(uint)

	session, rows, err := h.sessionManager.GetResults(c.Request.Context(), sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if err := h.authorizeHost(c, session, c.Query("host_passcode")); err != nil {
		handleServiceError(c, err)
		return
	}

	format := strings.ToLower(c.DefaultQuery("format", "xlsx"))
	switch format {
	case "xlsx":
		h.exportXLSX(c, session, rows)
	case "csv":
		h.exportCSV(c, session, rows)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format: %s", format)})
	}
}

var exportHeaders = []interface{}{"Rank", "Display Name", "Score", "Correct", "Answered", "Rounds Total"}

func (h *SessionHandler) exportXLSX(c *gin.Context, session *entity.Session, rows []service.SessionResultRow) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("[SessionHandler] Ошибка закрытия файла экспорта: %v", err)
		}
	}()

	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		log.Printf("[SessionHandler] Ошибка создания StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build export"})
		return
	}

	if err := sw.SetRow("A1", exportHeaders); err != nil {
		log.Printf("[SessionHandler] Ошибка записи заголовков: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build export"})
		return
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{
			row.Rank,
			sanitizeForExcel(row.DisplayName),
			row.Score,
			row.CorrectCount,
			row.AnsweredCount,
			row.RoundsTotal,
		}
		if err := sw.SetRow(cell, values); err != nil {
			log.Printf("[SessionHandler] Ошибка записи строки %d: %v", i+2, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build export"})
			return
		}
	}

	if err := sw.Flush(); err != nil {
		log.Printf("[SessionHandler] Ошибка завершения StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build export"})
		return
	}

	filename := fmt.Sprintf("session_%d_results.xlsx", session.ID)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := f.Write(c.Writer); err != nil {
		log.Printf("[SessionHandler] Ошибка отправки файла экспорта: %v", err)
	}
}

func (h *SessionHandler) exportCSV(c *gin.Context, session *entity.Session, rows []service.SessionResultRow) {
	filename := fmt.Sprintf("session_%d_results.csv", session.ID)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	// BOM, чтобы Excel корректно открывал UTF-8
	if _, err := c.Writer.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		log.Printf("[SessionHandler] Ошибка записи BOM: %v", err)
		return
	}

	w := csv.NewWriter(c.Writer)
	defer w.Flush()

	headers := []string{"Rank", "Display Name", "Score", "Correct", "Answered", "Rounds Total"}
	if err := w.Write(headers); err != nil {
		log.Printf("[SessionHandler] Ошибка записи заголовков CSV: %v", err)
		return
	}

	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.Rank),
			sanitizeForExcel(row.DisplayName),
			strconv.Itoa(row.Score),
			strconv.Itoa(row.CorrectCount),
			strconv.Itoa(row.AnsweredCount),
			strconv.Itoa(row.RoundsTotal),
		}
		if err := w.Write(record); err != nil {
			log.Printf("[SessionHandler] Ошибка записи строки CSV: %v", err)
			return
		}
	}
}

// sanitizeForExcel экранирует значения, которые Excel мог бы
// интерпретировать как формулы (защита от CSV/formula injection)
func sanitizeForExcel(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + value
	}
	return value
}
