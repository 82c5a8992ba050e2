// Command viewhubd is a small demo binary wiring a viewhub.Engine to a
// websocket transport. It exists to exercise the engine end to end, the
// way cmd/gateway exercises the teacher's provider/dispatcher stack; the
// transport itself (connection registry, message framing) stays firmly
// outside the engine's own scope.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/viewhub"
)

const (
	defaultConfigPath = "config/viewhub.yaml"
	defaultAddr       = ":8080"
	shutdownTimeout   = 10 * time.Second
	wsWriteTimeout    = 5 * time.Second
	wsReadLimit       = 64 * 1024
	tickerInterval    = 2 * time.Second
)

func main() {
	cfgPath, addr := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()

	store := newPriceStore([]string{"BTC-USD", "ETH-USD"})
	views := []viewhub.View[string]{newPriceView(store)}

	conns := newConnRegistry()

	engine, err := viewhub.Init[string, uuid.UUID](ctx, cfgPath, viewhub.Options[string, uuid.UUID]{
		Send: func(ctx context.Context, key uuid.UUID, sig viewhub.ViewSignature[string], msg viewhub.Message[string]) error {
			return conns.send(ctx, key, outboundMessage{
				ViewID:     string(msg.ViewID),
				Namespace:  sig.Namespace,
				Parameters: msg.Parameters,
				Value:      msg.Value,
			})
		},
		Views:  views,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	go tickPrices(ctx, store, engine)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(engine, conns, logger))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("viewhubd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown failed", "error", err)
	}
}

func parseFlags() (string, string) {
	cfgPath := flag.String("config", defaultConfigPath, "path to viewhub configuration file")
	addr := flag.String("addr", defaultAddr, "http listen address")
	flag.Parse()
	return *cfgPath, *addr
}

// subscribeRequest is the one client-originated control message shape the
// demo transport understands; op is either "subscribe" or "unsubscribe".
type subscribeRequest struct {
	Op         string `json:"op"`
	ViewID     string `json:"viewId"`
	Namespace  string `json:"namespace"`
	Parameters []any  `json:"parameters,omitempty"`
}

type outboundMessage struct {
	ViewID     string `json:"viewId"`
	Namespace  string `json:"namespace"`
	Parameters []any  `json:"parameters"`
	Value      any    `json:"value"`
}

func wsHandler(engine *viewhub.Engine[string, uuid.UUID], conns *connRegistry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		conn.SetReadLimit(wsReadLimit)

		key := uuid.New()
		conns.register(key, conn)
		defer func() {
			conns.unregister(key)
			engine.UnsubscribeAll(key)
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnected")
		}()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req subscribeRequest
			if err := json.Unmarshal(data, &req); err != nil {
				logger.Warn("malformed client message", "error", err)
				continue
			}
			handleRequest(ctx, engine, key, req)
		}
	}
}

func handleRequest(ctx context.Context, engine *viewhub.Engine[string, uuid.UUID], key uuid.UUID, req subscribeRequest) {
	sig := viewhub.ViewSignature[string]{
		Namespace:  req.Namespace,
		ViewID:     viewhub.ViewID(req.ViewID),
		Parameters: viewhub.Parameters(req.Parameters),
	}
	switch req.Op {
	case "subscribe":
		if _, err := engine.Subscribe(ctx, sig, key); err != nil {
			slog.Default().Warn("subscribe failed", "error", err)
		}
	case "unsubscribe":
		if err := engine.Unsubscribe(ctx, sig, key); err != nil {
			slog.Default().Warn("unsubscribe failed", "error", err)
		}
	}
}

// connRegistry maps a connection-scoped subscriber key to its live
// websocket connection, so Send can route a computed value to the right
// socket.
type connRegistry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*websocket.Conn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[uuid.UUID]*websocket.Conn)}
}

func (r *connRegistry) register(key uuid.UUID, conn *websocket.Conn) {
	r.mu.Lock()
	r.conns[key] = conn
	r.mu.Unlock()
}

func (r *connRegistry) unregister(key uuid.UUID) {
	r.mu.Lock()
	delete(r.conns, key)
	r.mu.Unlock()
}

func (r *connRegistry) send(ctx context.Context, key uuid.UUID, msg outboundMessage) error {
	r.mu.RLock()
	conn, ok := r.conns[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("viewhubd: connection %s gone", key)
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("viewhubd: marshal message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, encoded)
}

// priceStore is the demo's price book: an in-memory map of symbol to its
// current decimal price, protected by a mutex.
type priceStore struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func newPriceStore(symbols []string) *priceStore {
	s := &priceStore{prices: make(map[string]decimal.Decimal, len(symbols))}
	for i, sym := range symbols {
		s.prices[sym] = decimal.NewFromInt(int64(1000 * (i + 1)))
	}
	return s
}

func (s *priceStore) get(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

func (s *priceStore) bump(symbol string, delta decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.prices[symbol].Add(delta)
	s.prices[symbol] = next
	return next
}

func (s *priceStore) symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		out = append(out, sym)
	}
	return out
}

// priceView is the demo view: namespace is the symbol, and a
// "threshold" parameter (a decimal.Decimal) makes the view relevant only
// to hints that cross it, showing off Parameters holding a
// shopspring/decimal value rather than a plain scalar.
type priceView struct {
	store *priceStore
}

func newPriceView(store *priceStore) *priceView {
	return &priceView{store: store}
}

func (v *priceView) ID() viewhub.ViewID { return "price" }

func (v *priceView) Data(_ context.Context, symbol string, _ viewhub.Parameters) (any, error) {
	price, ok := v.store.get(symbol)
	if !ok {
		return nil, fmt.Errorf("viewhubd: unknown symbol %q", symbol)
	}
	return price.String(), nil
}

func (v *priceView) Relevant(symbol string, params viewhub.Parameters, hints []viewhub.Hint[string]) bool {
	var threshold decimal.Decimal
	hasThreshold := false
	if len(params) > 0 {
		if d, ok := params[0].(decimal.Decimal); ok {
			threshold = d
			hasThreshold = true
		}
	}
	for _, h := range hints {
		if h.Namespace != symbol || h.Type != "tick" {
			continue
		}
		if !hasThreshold {
			return true
		}
		if price, ok := h.Payload.(decimal.Decimal); ok && price.GreaterThanOrEqual(threshold) {
			return true
		}
	}
	return false
}

// tickPrices simulates an external price feed nudging prices and putting
// hints into the engine, standing in for whatever real market-data or
// webhook source a production deployment would wire in.
func tickPrices(ctx context.Context, store *priceStore, engine *viewhub.Engine[string, uuid.UUID]) {
	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()
	step := decimal.NewFromInt(1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range store.symbols() {
				price := store.bump(sym, step)
				engine.PutHints(viewhub.Hint[string]{Namespace: sym, Payload: price, Type: "tick"})
			}
		}
	}
}
