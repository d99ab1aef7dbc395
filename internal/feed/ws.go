package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"indstream/internal/model"
)

// wireTick is the JSON frame the generic websocket feed emits.
type wireTick struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"` // epoch milliseconds
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// WS consumes our own JSON tick frames from an arbitrary websocket endpoint,
// for simulators and internal replay servers.
type WS struct {
	url string
	log *slog.Logger

	OnReconnect func()
}

// NewWS creates a generic websocket source reading from url.
func NewWS(url string, log *slog.Logger) *WS {
	return &WS{url: url, log: log}
}

// Run consumes frames until ctx is cancelled, reconnecting with a doubling
// backoff after read failures.
func (w *WS) Run(ctx context.Context, push func(model.Tick)) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	first := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !first && w.OnReconnect != nil {
			w.OnReconnect()
		}
		first = false

		err := w.consume(ctx, push)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("ws feed disconnected, retrying", "url", w.url, "error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (w *WS) consume(ctx context.Context, push func(model.Tick)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.log.Info("ws feed connected", "url", w.url)

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	// Unblock ReadMessage on cancellation.
	go func() {
		<-pingCtx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var wt wireTick
		if err := json.Unmarshal(message, &wt); err != nil {
			w.log.Warn("ws feed decode error", "error", err)
			continue
		}
		if wt.Symbol == "" {
			continue
		}
		push(model.Tick{
			Symbol: wt.Symbol,
			TS:     time.UnixMilli(wt.TS).UTC(),
			Price:  wt.Price,
			Volume: wt.Volume,
		})
	}
}
