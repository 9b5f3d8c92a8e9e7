package trigger

import (
	"fmt"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IcebergState tracks the slicing of one iceberg parent.
type IcebergState struct {
	ParentID       string
	CurrentSliceID string
	SliceCount     int
	LastRefill     time.Time
}

// RegisterIceberg starts tracking parent. The first slice is cut with
// NextSlice.
func (m *Monitor) RegisterIceberg(parent *model.Order) *IcebergState {
	st := &IcebergState{ParentID: parent.ID}
	m.icebergs[parent.ID] = st
	return st
}

// Iceberg returns the state of an iceberg parent.
func (m *Monitor) Iceberg(parentID string) (*IcebergState, bool) {
	st, ok := m.icebergs[parentID]
	return st, ok
}

// IcebergParentOf returns the parent id of a slice.
func (m *Monitor) IcebergParentOf(sliceID string) (string, bool) {
	id, ok := m.sliceOwner[sliceID]
	return id, ok
}

// NextSlice cuts the next visible child off parent's hidden quantity. The
// child carries parent's sequence so it keeps the parent's queue position.
// It returns false once nothing is hidden.
func (m *Monitor) NextSlice(parent *model.Order, sliceID string, now time.Time) (*model.Order, bool, error) {
	st, ok := m.icebergs[parent.ID]
	if !ok {
		return nil, false, fmt.Errorf("%w: iceberg %s", ErrUnknownGroup, parent.ID)
	}
	if !parent.HiddenRemaining.IsPositive() {
		return nil, false, nil
	}
	size := decimal.Min(parent.VisibleSize, parent.HiddenRemaining)
	child := &model.Order{
		ID:           sliceID,
		AccountID:    parent.AccountID,
		TenantID:     parent.TenantID,
		Pair:         parent.Pair,
		Side:         parent.Side,
		Type:         model.OrderTypeLimit,
		TimeInForce:  model.TimeInForceGTC,
		Quantity:     size,
		Price:        parent.Price,
		MakerFeeRate: parent.MakerFeeRate,
		TakerFeeRate: parent.TakerFeeRate,
		ParentID:     parent.ID,
		Sequence:     parent.Sequence,
		Status:       model.OrderStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    parent.ExpiresAt,
	}
	parent.HiddenRemaining = parent.HiddenRemaining.Sub(size)
	parent.CurrentVisibleID = child.ID
	parent.UpdatedAt = now

	if st.CurrentSliceID != "" {
		delete(m.sliceOwner, st.CurrentSliceID)
	}
	st.CurrentSliceID = child.ID
	st.SliceCount++
	st.LastRefill = now
	m.sliceOwner[child.ID] = parent.ID

	m.logger.Debug("Created iceberg slice",
		zap.String("order_id", parent.ID),
		zap.String("slice_id", child.ID),
		zap.String("slice_size", size.String()),
		zap.String("hidden_remaining", parent.HiddenRemaining.String()),
		zap.Int("slice_count", st.SliceCount))
	return child, true, nil
}

// ReleaseIceberg forgets a parent and its current slice.
func (m *Monitor) ReleaseIceberg(parentID string) {
	if st, ok := m.icebergs[parentID]; ok {
		delete(m.sliceOwner, st.CurrentSliceID)
		delete(m.icebergs, parentID)
	}
}

// IcebergCount returns the number of live iceberg parents.
func (m *Monitor) IcebergCount() int {
	return len(m.icebergs)
}
