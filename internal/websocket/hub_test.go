package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yourusername/quizlive-api/internal/config"
)

func newTestHub() *SessionHub {
	return NewSessionHub(config.WebSocketConfig{}, &NoOpPubSub{})
}

// newTestClient создает клиента без реального соединения:
// доставка проверяется через канал send
func newTestClient(hub *SessionHub, userID string) *Client {
	c := NewClient(hub, nil, userID)
	hub.clients.Store(c, struct{}{})
	hub.userClients.Store(userID, c)
	return c
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestSessionHub_BroadcastToSessionLocal(t *testing.T) {
	// Arrange
	hub := newTestHub()
	alice := newTestClient(hub, "1")
	bob := newTestClient(hub, "2")
	carol := newTestClient(hub, "3")

	hub.SubscribeToSession(alice, 7)
	hub.SubscribeToSession(bob, 7)
	hub.SubscribeToSession(carol, 9)

	// Act
	hub.BroadcastToSessionLocal(7, []byte(`{"type":"session:state"}`))

	// Assert: сообщение получили только подписчики сессии 7
	assert.Len(t, drain(alice), 1)
	assert.Len(t, drain(bob), 1)
	assert.Empty(t, drain(carol))
}

func TestSessionHub_ResubscribeMovesClient(t *testing.T) {
	// Arrange
	hub := newTestHub()
	alice := newTestClient(hub, "1")
	hub.SubscribeToSession(alice, 7)

	// Act: повторная подписка переносит клиента в другую сессию
	hub.SubscribeToSession(alice, 9)
	hub.BroadcastToSessionLocal(7, []byte("old"))
	hub.BroadcastToSessionLocal(9, []byte("new"))

	// Assert
	got := drain(alice)
	assert.Len(t, got, 1)
	assert.Equal(t, "new", string(got[0]))
	assert.Equal(t, uint(9), alice.GetSessionID())
}

func TestSessionHub_UnsubscribeStopsDelivery(t *testing.T) {
	// Arrange
	hub := newTestHub()
	alice := newTestClient(hub, "1")
	hub.SubscribeToSession(alice, 7)

	// Act
	hub.UnsubscribeFromSession(alice)
	hub.BroadcastToSessionLocal(7, []byte("msg"))

	// Assert
	assert.Empty(t, drain(alice))
	assert.Equal(t, uint(0), alice.GetSessionID())
}

func TestSessionHub_GetSessionSubscribers(t *testing.T) {
	// Arrange
	hub := newTestHub()
	hub.SubscribeToSession(newTestClient(hub, "10"), 7)
	hub.SubscribeToSession(newTestClient(hub, "20"), 7)

	// Act
	subscribers, err := hub.GetSessionSubscribers(7)

	// Assert
	assert.NoError(t, err)
	assert.ElementsMatch(t, []uint{10, 20}, subscribers)

	empty, err := hub.GetSessionSubscribers(999)
	assert.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionHub_SendToUser(t *testing.T) {
	// Arrange
	hub := newTestHub()
	alice := newTestClient(hub, "1")

	// Act / Assert
	assert.True(t, hub.SendToUser("1", []byte("hi")))
	assert.Len(t, drain(alice), 1)
	assert.False(t, hub.SendToUser("404", []byte("hi")))
}
