package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pincex/tradingcore/internal/trading/admission"
	"github.com/pincex/tradingcore/internal/trading/auditlog"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

var (
	pairXY = model.NewPair("X", "Y")
	t0     = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

const tenant = "tenant-1"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seqIDs issues readable, deterministic ids.
type seqIDs struct {
	n atomic.Int64
}

func (g *seqIDs) NewOrderID() string {
	return fmt.Sprintf("id-%04d", g.n.Add(1))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	cfg.Outbox.InitialBackoff = time.Millisecond
	cfg.Outbox.MaxBackoff = 5 * time.Millisecond
	cfg.Pairs = []PairConfig{{
		Pair:         pairXY,
		PriceTick:    dec("0.01"),
		QuantityStep: dec("0.001"),
	}}
	return cfg
}

func limitReq(account string, side model.Side, qty, price string) *model.OrderRequest {
	return &model.OrderRequest{
		AccountID:   account,
		TenantID:    tenant,
		Pair:        pairXY,
		Side:        side,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Quantity:    dec(qty),
		Price:       dec(price),
	}
}

func marketReq(account string, side model.Side, qty string) *model.OrderRequest {
	return &model.OrderRequest{
		AccountID: account,
		TenantID:  tenant,
		Pair:      pairXY,
		Side:      side,
		Type:      model.OrderTypeMarket,
		Quantity:  dec(qty),
	}
}

func withTIF(req *model.OrderRequest, tif model.TimeInForce) *model.OrderRequest {
	req.TimeInForce = tif
	return req
}

// recorded decodes the audit stream of a tenant.
func recorded(ctx context.Context, sink auditlog.Sink, tenantID string) ([]events.Event, error) {
	entries, err := sink.Range(ctx, tenantID, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(entries))
	for _, e := range entries {
		ev, err := auditlog.Decode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// statusTrail lists the recorded transitions of one order as "FROM>TO:reason".
func statusTrail(evs []events.Event, orderID string) []string {
	var out []string
	for _, ev := range evs {
		if ev.Type == events.TypeOrderStatusChanged && ev.StatusChanged.OrderID == orderID {
			sc := ev.StatusChanged
			out = append(out, fmt.Sprintf("%s>%s:%s", sc.From, sc.To, sc.Reason))
		}
	}
	return out
}

func fillsOf(evs []events.Event) []model.Fill {
	var out []model.Fill
	for _, ev := range evs {
		if ev.Type == events.TypeFill {
			out = append(out, *ev.Fill)
		}
	}
	return out
}

// fingerprint renders a book snapshot as text so two books compare
// independently of decimal internals.
func fingerprint(s *BookSnapshot) string {
	var b strings.Builder
	line := func(kind string, h model.OrderHeader) string {
		return fmt.Sprintf("%s %s %s %s p=%s sp=%s q=%s f=%s seq=%d %s parent=%s\n",
			kind, h.ID, h.Side, h.Type, h.Price, h.StopPrice, h.Quantity, h.FilledQuantity, h.Sequence, h.Status, h.ParentID)
	}
	var lines []string
	for _, h := range s.Resting {
		lines = append(lines, line("rest", h))
	}
	for _, h := range s.Parked {
		lines = append(lines, line("park", h))
	}
	sort.Strings(lines)
	for _, l := range lines {
		b.WriteString(l)
	}
	fmt.Fprintf(&b, "breaker=%s forced=%v algo=%s", s.Breaker.State, s.Breaker.Forced, s.Algorithm)
	return b.String()
}

var _ admission.IDGenerator = (*seqIDs)(nil)
