// Package webhook accepts external trade intents over HTTP and pushes
// them through the gate synchronously, so the caller learns the outcome
// in the response.
package webhook

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"trade_engine/internal/gate"
	"trade_engine/internal/models"
	"trade_engine/pkg/logger"
)

const maxBody = 1 << 16

type payload struct {
	Strategy   string  `json:"strategy"`
	Action     string  `json:"action"`
	Instrument string  `json:"instrument"`
	Side       string  `json:"side"`
	Qty        float64 `json:"qty"`
	Price      float64 `json:"price"`
}

type reply struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Order  string `json:"order_id,omitempty"`
}

type Gateway interface {
	Submit(ctx context.Context, in models.Intent) gate.Outcome
}

type Server struct {
	g    Gateway
	addr string
	srv  *http.Server
}

func New(g Gateway, addr string) *Server {
	s := &Server{g: g, addr: addr}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/intents", s.handleIntent)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Start() {
	logger.Info("webhook listening on %s", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("webhook server: %v", err)
	}
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var p payload
	if err := sonic.Unmarshal(body, &p); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	in := models.NewIntent(p.Strategy, models.Action(p.Action), p.Instrument, models.OriginWebhook)
	in.Side = models.Side(p.Side)
	in.Qty = p.Qty
	in.Price = p.Price

	out := s.g.Submit(r.Context(), in)
	logger.Info("webhook %s %s/%s -> %s", p.Action, p.Strategy, p.Instrument, out.Status)

	code := http.StatusOK
	switch out.Status {
	case gate.StatusRejected:
		code = http.StatusUnprocessableEntity
	case gate.StatusUnverified:
		code = http.StatusAccepted
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	buf, _ := sonic.Marshal(reply{Status: string(out.Status), Reason: out.Reason, Order: out.OrderID})
	_, _ = w.Write(buf)
}
