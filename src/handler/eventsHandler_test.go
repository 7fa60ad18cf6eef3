package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newstrader/src/messaging"
	"newstrader/src/model"
)

type fakePositions struct{}

func (fakePositions) Account(id string) (model.Account, bool) {
	return model.Account{ID: id}, id == "acc"
}

func (fakePositions) Positions(accountID string) []model.Position {
	if accountID != "acc" {
		return nil
	}
	return []model.Position{{AccountID: "acc", Symbol: "BTC"}}
}

func TestPositionsHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/accounts/{id}/positions", PositionsHandler(fakePositions{}))

	rr := do(r, http.MethodGet, "/accounts/acc/positions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var positions []model.Position
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC", positions[0].Symbol)

	rr = do(r, http.MethodGet, "/accounts/other/positions", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEventsHandlerStreamsFilteredKinds(t *testing.T) {
	bus := messaging.NewBus(16)
	defer bus.Close()

	server := httptest.NewServer(EventsHandler(bus))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?kinds=news"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription is registered after the upgrade, so keep publishing until one arrives
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				bus.Publish(messaging.KindSound, map[string]string{"sound_id": "pause"})
				bus.Publish(messaging.KindNews, map[string]string{"id": "n1"})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Kind    string            `json:"kind"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, messaging.KindNews, ev.Kind)
	assert.Equal(t, "n1", ev.Payload["id"])
}

func TestEventsHandlerClosesWithBus(t *testing.T) {
	bus := messaging.NewBus(16)
	server := httptest.NewServer(EventsHandler(bus))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	bus.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
}
