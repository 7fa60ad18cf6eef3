package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/messaging"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
)

type eventSubscriber interface {
	Subscribe(kinds ...string) (<-chan messaging.Event, func())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the surface is meant for a local display
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsHandler streams bus events as JSON websocket messages. The optional
// kinds query parameter is a comma separated filter.
func EventsHandler(bus eventSubscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var kinds []string
		for _, k := range strings.Split(r.URL.Query().Get("kinds"), ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, k)
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("events upgrade failed")
			return
		}
		defer conn.Close()

		events, unsubscribe := bus.Subscribe(kinds...)
		defer unsubscribe()

		log := logger.WithFields(map[string]interface{}{"remote": r.RemoteAddr, "kinds": kinds})
		log.Info("events client connected")

		// reader: only control frames are expected; it ends when the client goes away
		closed := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(eventsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				log.Info("events client disconnected")
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bus closed"), time.Now().Add(eventsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					log.WithError(err).Warn("events write failed")
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}
