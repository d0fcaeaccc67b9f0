package marketdata

import (
	"context"
	"log"
	"time"

	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// WSClient streams quotes from a venue websocket into the cache,
// reconnecting with backoff when the stream drops.
type WSClient struct {
	url         string
	instruments []string
	cache       *Cache
	dialer      *websocket.Dialer
}

func NewWSClient(url string, instruments []string, cache *Cache) *WSClient {
	return &WSClient{
		url:         url,
		instruments: instruments,
		cache:       cache,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type wireTick struct {
	Instrument string  `json:"instrument"`
	Price      float64 `json:"price"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	Ts         int64   `json:"ts"` // unix millis
}

type subscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (c *WSClient) Start(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.runOnce(ctx); err != nil {
			log.Printf("[FEED] ws stream: %v, reconnect in %s", err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *WSClient) runOnce(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	sub, err := sonic.Marshal(subscribeMsg{Op: "subscribe", Args: c.instruments})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return err
	}

	// drop the connection when ctx ends so ReadMessage unblocks
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var t wireTick
		if err := sonic.Unmarshal(raw, &t); err != nil {
			log.Printf("[FEED] bad tick: %v", err)
			continue
		}
		if t.Instrument == "" || t.Price <= 0 {
			continue
		}
		c.cache.Update(models.Quote{
			Instrument: t.Instrument,
			Price:      t.Price,
			Bid:        t.Bid,
			Ask:        t.Ask,
			ObservedAt: time.UnixMilli(t.Ts),
		})
	}
}
