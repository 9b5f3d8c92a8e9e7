package engine

import (
	"sort"
	"time"

	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/pincex/tradingcore/internal/trading/trigger"
	"go.uber.org/zap"
)

// terminalRing remembers the most recent terminal orders of a pair so late
// cancels and lookups can still be answered.
type terminalRing struct {
	ids  []string
	next int
	byID map[string]*model.Order
}

func newTerminalRing(capacity int) *terminalRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &terminalRing{
		ids:  make([]string, 0, capacity),
		byID: make(map[string]*model.Order, capacity),
	}
}

func (r *terminalRing) add(o *model.Order) {
	if _, ok := r.byID[o.ID]; ok {
		r.byID[o.ID] = o
		return
	}
	if len(r.ids) < cap(r.ids) {
		r.ids = append(r.ids, o.ID)
	} else {
		delete(r.byID, r.ids[r.next])
		r.ids[r.next] = o.ID
		r.next = (r.next + 1) % len(r.ids)
	}
	r.byID[o.ID] = o
}

func (r *terminalRing) get(id string) (*model.Order, bool) {
	o, ok := r.byID[id]
	return o, ok
}

func (r *terminalRing) len() int {
	return len(r.byID)
}

// setStatus moves o to status and emits the transition. Repeating the
// current status is a no-op.
func (m *market) setStatus(o *model.Order, status model.OrderStatus, reason string) {
	if o.Status == status {
		return
	}
	from := o.Status
	o.Status = status
	o.UpdatedAt = m.clock.Now()
	m.emit(events.Event{
		Type:     events.TypeOrderStatusChanged,
		TenantID: o.TenantID,
		StatusChanged: &events.OrderStatusChanged{
			OrderID:  o.ID,
			ParentID: o.ParentID,
			From:     from,
			To:       status,
			Reason:   reason,
			Filled:   o.FilledQuantity,
		},
	})
}

// closeOrder makes a live order terminal and detaches it from the book and
// the parked set. Closing the last live leg of an OCO settles the parent.
func (m *market) closeOrder(o *model.Order, status model.OrderStatus, reason string) {
	if _, live := m.orders[o.ID]; !live {
		return
	}
	m.setStatus(o, status, reason)
	if m.book.Contains(o.ID) {
		if _, err := m.book.Remove(o.ID); err != nil {
			m.logger.Error("Failed to remove order from book", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	m.monitor.Unpark(o.ID)
	delete(m.orders, o.ID)
	m.terminal.add(o)

	if g, ok := m.monitor.OCOByLeg(o.ID); ok {
		m.settleOCOParent(g, status, reason)
	}
}

// settleOCOParent closes the parent once neither leg is live. A parent
// whose quantity was filled through its legs ends FILLED.
func (m *market) settleOCOParent(g *trigger.OCOGroup, status model.OrderStatus, reason string) {
	for _, id := range g.Legs() {
		if _, live := m.orders[id]; live {
			return
		}
	}
	if err := m.monitor.ReleaseOCO(g.ParentID); err != nil {
		m.logger.Warn("OCO group already released", zap.String("order_id", g.ParentID), zap.Error(err))
	}
	parent, ok := m.orders[g.ParentID]
	if !ok {
		return
	}
	if !parent.Remaining().IsPositive() {
		status, reason = model.OrderStatusFilled, events.ReasonFilled
	}
	m.closeOrder(parent, status, reason)
}

// cancelGroupFor closes o together with every order linked to it: both
// legs and the parent of an OCO, the parent and slice of an iceberg.
func (m *market) cancelGroupFor(o *model.Order, status model.OrderStatus, reason string) {
	if g, ok := m.ocoGroupOf(o.ID); ok {
		if parent, ok := m.orders[g.ParentID]; ok {
			parentReason := events.ReasonGroupCancel
			if parent.ID == o.ID {
				parentReason = reason
			}
			m.closeOrder(parent, status, parentReason)
		}
		for _, id := range g.Legs() {
			leg, ok := m.orders[id]
			if !ok {
				continue
			}
			legReason := events.ReasonGroupCancel
			if id == o.ID {
				legReason = reason
			}
			m.closeOrder(leg, status, legReason)
		}
		return
	}

	if st, ok := m.monitor.Iceberg(o.ID); ok {
		if slice, ok := m.orders[st.CurrentSliceID]; ok {
			m.closeOrder(slice, status, events.ReasonIcebergParent)
		}
		m.closeOrder(o, status, reason)
		m.monitor.ReleaseIceberg(o.ID)
		return
	}
	if parentID, ok := m.monitor.IcebergParentOf(o.ID); ok {
		m.closeOrder(o, status, reason)
		if parent, ok := m.orders[parentID]; ok {
			m.closeOrder(parent, status, events.ReasonIcebergDrained)
		}
		m.monitor.ReleaseIceberg(parentID)
		return
	}
	m.closeOrder(o, status, reason)
}

func (m *market) ocoGroupOf(id string) (*trigger.OCOGroup, bool) {
	if g, ok := m.monitor.OCO(id); ok {
		return g, true
	}
	return m.monitor.OCOByLeg(id)
}

// cancel handles a client cancel of a live order.
func (m *market) cancel(id string) error {
	if o, ok := m.orders[id]; ok {
		m.cancelGroupFor(o, model.OrderStatusCancelled, events.ReasonUserCancel)
		return nil
	}
	if o, ok := m.terminal.get(id); ok {
		return model.Reject(model.RejectTerminal, "order %s is %s", id, o.Status)
	}
	return model.Reject(model.RejectUnknownOrder, "order %s", id)
}

// drain cancels every order resting on either ladder and returns how many
// were cancelled. Parked orders stay parked.
func (m *market) drain(reason string) int {
	resting := m.book.Orders()
	count := 0
	for _, o := range resting {
		if _, live := m.orders[o.ID]; !live {
			continue
		}
		if _, ok := m.monitor.IcebergParentOf(o.ID); ok {
			m.cancelGroupFor(o, model.OrderStatusCancelled, reason)
		} else {
			m.closeOrder(o, model.OrderStatusCancelled, reason)
		}
		count++
	}
	if count > 0 {
		m.logger.Info("Drained book", zap.Int("cancelled", count), zap.String("reason", reason))
	}
	return count
}

// expire closes every live order whose expiry has passed, oldest first.
func (m *market) expire(now time.Time) {
	var due []*model.Order
	for _, o := range m.orders {
		if o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
			due = append(due, o)
		}
	}
	if len(due) == 0 {
		return
	}
	sortBySequence(due)
	for _, o := range due {
		if _, live := m.orders[o.ID]; !live {
			continue
		}
		m.cancelGroupFor(o, model.OrderStatusExpired, events.ReasonExpired)
	}
	m.logger.Debug("Expiry sweep", zap.Int("expired", len(due)))
}

func sortBySequence(orders []*model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Sequence != orders[j].Sequence {
			return orders[i].Sequence < orders[j].Sequence
		}
		return orders[i].ID < orders[j].ID
	})
}

// lookup returns a live or retained terminal order.
func (m *market) lookup(id string) (*model.Order, bool) {
	if o, ok := m.orders[id]; ok {
		return o, true
	}
	return m.terminal.get(id)
}
