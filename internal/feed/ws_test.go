package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"indstream/internal/model"
)

func TestWSConsumesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frames := []string{
			`{"symbol":"BTCUSDT","ts":1700000000000,"price":42000.5,"volume":0.25}`,
			`{"symbol":"","ts":1,"price":1,"volume":1}`, // skipped: no symbol
			`not json`,                                  // skipped: decode error
			`{"symbol":"ETHUSDT","ts":1700000001000,"price":2200,"volume":1.5}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	src := NewWS(url, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan model.Tick, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Run(ctx, func(tk model.Tick) { got <- tk })
	}()

	want := []struct {
		symbol string
		price  float64
	}{
		{"BTCUSDT", 42000.5},
		{"ETHUSDT", 2200},
	}
	for _, w := range want {
		select {
		case tk := <-got:
			if tk.Symbol != w.symbol || tk.Price != w.price {
				t.Errorf("tick = %+v, want symbol=%s price=%v", tk, w.symbol, w.price)
			}
			if tk.TS.Location() != time.UTC {
				t.Errorf("tick TS not UTC: %v", tk.TS)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(Config{Kind: "carrier-pigeon"}, slog.Default()); err == nil {
		t.Fatal("expected error for unknown feed kind")
	}
}
