package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	wsPingInterval = 30 * time.Second
	// Mids older than this are ignored and MarkPrice falls back to REST.
	midStaleAfter = 15 * time.Second
)

// MidStream keeps a live cache of mid prices from the allMids subscription.
// It reconnects and resubscribes on read errors until the context ends.
type MidStream struct {
	url            string
	reconnectDelay time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	midsMu  sync.RWMutex
	mids    map[string]decimal.Decimal
	updated time.Time
}

func NewMidStream(url string, reconnectDelay time.Duration, log *zap.Logger) *MidStream {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &MidStream{
		url:            url,
		reconnectDelay: reconnectDelay,
		log:            log,
		mids:           make(map[string]decimal.Decimal),
	}
}

// Mid returns the cached mid for a symbol. It reports false when the symbol
// is unknown or the cache has gone stale.
func (s *MidStream) Mid(symbol string) (decimal.Decimal, bool) {
	s.midsMu.RLock()
	defer s.midsMu.RUnlock()
	if time.Since(s.updated) > midStaleAfter {
		return decimal.Decimal{}, false
	}
	mid, ok := s.mids[symbol]
	return mid, ok
}

func (s *MidStream) Run(ctx context.Context) error {
	for {
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logErr("ws connect failed", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.reconnectDelay):
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			s.pingLoop(pingCtx)
		}()
		err := s.readLoop(ctx)
		cancel()
		<-pingDone
		s.resetConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logErr("ws read loop ended", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *MidStream) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return err
	}
	sub := map[string]any{
		"method":       "subscribe",
		"subscription": map[string]any{"type": "allMids"},
	}
	if err := writeJSON(ctx, conn, sub); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return err
	}
	s.conn = conn
	return nil
}

func (s *MidStream) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handle(data)
	}
}

func (s *MidStream) handle(data []byte) {
	var msg struct {
		Channel string `json:"channel"`
		Data    struct {
			Mids map[string]string `json:"mids"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Channel != "allMids" {
		return
	}
	s.midsMu.Lock()
	defer s.midsMu.Unlock()
	for symbol, raw := range msg.Data.Mids {
		mid, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		s.mids[symbol] = mid
	}
	s.updated = time.Now()
}

func (s *MidStream) pingLoop(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, map[string]any{"method": "ping"}); err != nil {
				return
			}
		}
	}
}

func (s *MidStream) resetConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "reset")
		s.conn = nil
	}
}

func (s *MidStream) logErr(msg string, err error) {
	if s.log == nil || err == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		s.log.Info(msg, zap.Error(err))
		return
	}
	s.log.Warn(msg, zap.Error(err))
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
