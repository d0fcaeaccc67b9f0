package gate

import (
	"context"
	"time"

	"trade_engine/internal/broker"
	"trade_engine/internal/models"
)

// Dual verification: an execution is trusted only when the order record
// reports EXECUTED and the broker's position book shows the expected
// quantity. Timeout means unverified — never assumed filled, never
// assumed failed.

type verifyStatus int

const (
	verifyOK verifyStatus = iota
	verifyBrokerRejected
	verifyTimeout
)

type verifyResult struct {
	status    verifyStatus
	reason    string
	fillPrice float64
}

// expectation — the position book we expect once the command fills,
// derived from broker truth fetched just before submission.
type expectation struct {
	instrument string
	qty        float64     // expected resulting qty, 0 = flat
	side       models.Side // expected side when qty > 0
	priorAvg   float64
	priorLast  float64
}

func expectationFor(cmd models.Command, prior []models.Position) expectation {
	exp := expectation{instrument: cmd.Instrument, qty: cmd.Qty, side: cmd.Side}
	for _, p := range prior {
		if p.Instrument != cmd.Instrument {
			continue
		}
		exp.priorAvg = p.AvgPrice
		exp.priorLast = p.LastPrice
		if p.Side == cmd.Side {
			exp.qty = p.Qty + cmd.Qty
		} else {
			exp.qty = p.Qty - cmd.Qty
			if exp.qty < 0 {
				exp.qty = -exp.qty
				exp.side = cmd.Side
			} else if exp.qty > 0 {
				exp.side = p.Side
			}
		}
		break
	}
	return exp
}

type verifier struct {
	brk     broker.Broker
	timeout time.Duration
	poll    time.Duration
}

func (v *verifier) verify(ctx context.Context, cmd models.Command, orderID string, exp expectation) verifyResult {
	deadline := time.Now().Add(v.timeout)
	ticker := time.NewTicker(v.poll)
	defer ticker.Stop()

	var executed, bookAgrees bool
	var fillPrice float64

	for {
		if !executed {
			status, err := v.brk.GetOrderStatus(ctx, orderID)
			if err == nil {
				switch status {
				case models.StatusExecuted:
					executed = true
				case models.StatusRejected, models.StatusCanceled:
					return verifyResult{status: verifyBrokerRejected, reason: "order " + string(status)}
				}
			}
			// transient status errors: keep polling until the deadline
		}

		if executed && !bookAgrees {
			positions, err := v.brk.GetPositions(ctx, cmd.Strategy)
			if err == nil {
				bookAgrees, fillPrice = v.bookMatches(cmd, exp, positions)
			}
		}

		if executed && bookAgrees {
			return verifyResult{status: verifyOK, fillPrice: fillPrice}
		}

		if time.Now().After(deadline) {
			reason := "no confirmation within timeout"
			if executed {
				reason = "order executed but position book disagrees"
			}
			return verifyResult{status: verifyTimeout, reason: reason}
		}

		select {
		case <-ctx.Done():
			return verifyResult{status: verifyTimeout, reason: ctx.Err().Error()}
		case <-ticker.C:
		}
	}
}

func (v *verifier) bookMatches(cmd models.Command, exp expectation, positions []models.Position) (bool, float64) {
	var found *models.Position
	for i := range positions {
		if positions[i].Instrument == exp.instrument {
			found = &positions[i]
			break
		}
	}

	if qtyClose(exp.qty, 0) {
		if found == nil || qtyClose(found.Qty, 0) {
			return true, v.exitFillPrice(cmd, exp)
		}
		return false, 0
	}

	if found == nil || !qtyClose(found.Qty, exp.qty) || found.Side != exp.side {
		return false, 0
	}

	px := found.AvgPrice
	if cmd.Action == models.ActionExit || cmd.Action == models.ActionForceExit {
		px = v.exitFillPrice(cmd, exp)
	}
	return true, px
}

// exitFillPrice — the venue does not echo a fill price for closes, so the
// limit price or the price hint carried by the command stands in, then
// the last trade seen on the prior position.
func (v *verifier) exitFillPrice(cmd models.Command, exp expectation) float64 {
	if cmd.Price > 0 {
		return cmd.Price
	}
	return exp.priorLast
}
