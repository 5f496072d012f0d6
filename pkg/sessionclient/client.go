// Package sessionclient реализует клиентский контроллер живой сессии:
// HTTP-клиент API, опрос снимков состояния с экспоненциальной задержкой
// и контроллеры ведущего и участника поверх него.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

// Ошибки клиентской стороны
var (
	// ErrConnectionLost объявляется, когда ни один опрос не завершился успешно
	// в пределах окна живости. Это сигнал для UI перейти в состояние
	// переподключения, а не фатальная ошибка.
	ErrConnectionLost = errors.New("connection to session lost")

	// ErrAlreadySubmitted возвращается при попытке ответить на раунд,
	// на который ответ уже отправлен.
	ErrAlreadySubmitted = errors.New("answer already submitted for this round")

	// ErrRoundNotActive возвращается при попытке ответить вне активного раунда
	// или после дедлайна.
	ErrRoundNotActive = errors.New("no active round accepting answers")
)

// APIError - ошибка, возвращенная сервером
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client - HTTP-клиент API живых сессий
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

// Option настраивает клиента
type Option func(*Client)

// WithHTTPClient заменяет HTTP-клиент по умолчанию
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthToken задает access-токен для авторизованных запросов
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// NewClient создает клиента API для указанного базового URL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JoinResult - результат присоединения к сессии
type JoinResult struct {
	Participant struct {
		ID          uint   `json:"id"`
		SessionID   uint   `json:"session_id"`
		DisplayName string `json:"display_name"`
		JoinOrder   int    `json:"join_order"`
		Score       int    `json:"score"`
	} `json:"participant"`
	Snapshot *sessionmanager.Snapshot `json:"snapshot"`
}

// AnswerResult - результат обработки ответа сервером.
// Accepted=false с причиной означает, что ответ не был учтен (опоздание).
type AnswerResult struct {
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	IsCorrect  bool   `json:"is_correct"`
	BaseScore  int    `json:"base_score"`
	BonusScore int    `json:"bonus_score"`
	TotalScore int    `json:"total_score"`
}

// SessionInfo - сессия в ответах API
type SessionInfo struct {
	ID       uint   `json:"id"`
	QuizID   uint   `json:"quiz_id"`
	JoinCode string `json:"join_code"`
	Status   string `json:"status"`
	Version  int64  `json:"version"`
}

// ResolveJoinCode находит сессию по коду присоединения
func (c *Client) ResolveJoinCode(ctx context.Context, joinCode string) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/code/%s", joinCode), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetSnapshot запрашивает полный снимок состояния сессии
func (c *Client) GetSnapshot(ctx context.Context, sessionID uint) (*sessionmanager.Snapshot, error) {
	var snap sessionmanager.Snapshot
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d/state", sessionID), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Join присоединяет участника к сессии под указанным именем
func (c *Client) Join(ctx context.Context, sessionID uint, displayName string) (*JoinResult, error) {
	body := map[string]string{"display_name": displayName}
	var result JoinResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/join", sessionID), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Leave помечает участника покинувшим сессию
func (c *Client) Leave(ctx context.Context, sessionID, participantID uint) error {
	path := fmt.Sprintf("/api/sessions/%d/participants/%d/leave", sessionID, participantID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SubmitAnswer отправляет ответ участника на активный раунд.
// Token обеспечивает идемпотентность: повтор с тем же токеном
// возвращает прежний результат без повторного начисления очков.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID, participantID uint, selected []int, token string) (*AnswerResult, error) {
	body := map[string]interface{}{
		"participant_id":   participantID,
		"selected_options": selected,
		"token":            token,
	}
	var result AnswerResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/answer", sessionID), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendCommand отправляет команду ведущего с идемпотентным токеном
func (c *Client) SendCommand(ctx context.Context, sessionID uint, command, token, hostPasscode string) (*sessionmanager.Snapshot, error) {
	body := map[string]string{
		"command": command,
		"token":   token,
	}
	if hostPasscode != "" {
		body["host_passcode"] = hostPasscode
	}
	var snap sessionmanager.Snapshot
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/command", sessionID), body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// do выполняет запрос и декодирует JSON-ответ в out (если out != nil)
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
