package news

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
)

// KeyFunc returns the API key of a feed. An empty key skips login.
type KeyFunc func(ctx context.Context) (string, error)

// wsFeed is the shared websocket loop of the push feeds.
type wsFeed struct {
	name         string
	url          string
	key          KeyFunc
	parse        func([]byte) (model.NewsEvent, error)
	dialer       *websocket.Dialer
	pingInterval time.Duration
	readTimeout  time.Duration
	log          *logger.Entry
}

func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout:  15 * time.Second,
		EnableCompression: true,
		Proxy:             http.ProxyFromEnvironment,
	}
}

func (f *wsFeed) Name() string {
	return f.name
}

func (f *wsFeed) Run(ctx context.Context, emit func(model.NewsEvent)) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.name, err)
	}

	done := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer func() {
		close(done)
		closeConn()
	}()

	f.log.Info("connected to news websocket")

	readTimeout := f.readTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(readTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	var writeMu sync.Mutex
	go func() {
		interval := f.pingInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				closeConn()
				return
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				writeMu.Unlock()
				if err != nil {
					closeConn()
					return
				}
			}
		}
	}()

	if err := f.login(ctx, conn, &writeMu); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", f.name, err)
		}
		extend()

		ev, err := f.parse(data)
		if err != nil {
			f.log.WithError(err).Warn("malformed news payload dropped")
			continue
		}
		emit(ev)
	}
}

func (f *wsFeed) login(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) error {
	if f.key == nil {
		return nil
	}
	key, err := f.key(ctx)
	if err != nil || key == "" {
		f.log.WithError(err).Warn("news API key not found, continuing without login")
		return nil
	}

	writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, []byte("login "+key))
	writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("login %s: %w", f.name, err)
	}

	if _, _, err := conn.ReadMessage(); err != nil {
		return fmt.Errorf("login reply %s: %w", f.name, err)
	}
	f.log.Info("news source login acknowledged")
	return nil
}
