package feed

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"indstream/internal/model"
)

// Binance streams spot trades for a set of symbols via the combined trade
// stream. The client library handles keepalive; we handle reconnection with
// a doubling backoff.
type Binance struct {
	symbols []string
	log     *slog.Logger

	// OnReconnect is called each time the stream is re-established after a
	// failure.
	OnReconnect func()
}

// NewBinance creates a Binance trade-stream source.
func NewBinance(symbols []string, log *slog.Logger) *Binance {
	return &Binance{symbols: symbols, log: log}
}

// Run streams trades until ctx is cancelled. Transient stream failures are
// retried with backoff; only context cancellation ends the loop.
func (b *Binance) Run(ctx context.Context, push func(model.Tick)) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	first := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !first && b.OnReconnect != nil {
			b.OnReconnect()
		}
		first = false

		err := b.stream(ctx, push)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Warn("binance stream closed, retrying",
			"error", err, "backoff", backoff)

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

func (b *Binance) stream(ctx context.Context, push func(model.Tick)) error {
	errCh := make(chan error, 1)

	handler := func(event *binance.WsCombinedTradeEvent) {
		tick, err := parseTradeEvent(&event.Data)
		if err != nil {
			b.log.Warn("binance trade parse error", "error", err, "symbol", event.Data.Symbol)
			return
		}
		push(tick)
	}
	errHandler := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	doneC, stopC, err := binance.WsCombinedTradeServe(b.symbols, handler, errHandler)
	if err != nil {
		return err
	}
	b.log.Info("binance stream connected", "symbols", b.symbols)

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case err := <-errCh:
		close(stopC)
		<-doneC
		return err
	case <-doneC:
		return nil
	}
}

// parseTradeEvent converts a Binance trade event into a model.Tick. Binance
// sends price and quantity as decimal strings and timestamps as epoch
// milliseconds.
func parseTradeEvent(ev *binance.WsTradeEvent) (model.Tick, error) {
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		return model.Tick{}, err
	}
	qty, err := strconv.ParseFloat(ev.Quantity, 64)
	if err != nil {
		return model.Tick{}, err
	}
	ts := ev.TradeTime
	if ts == 0 {
		ts = ev.Time
	}
	return model.Tick{
		Symbol: ev.Symbol,
		TS:     time.UnixMilli(ts).UTC(),
		Price:  price,
		Volume: qty,
	}, nil
}
