package trigger

import (
	"fmt"

	"github.com/pincex/tradingcore/internal/trading/model"
	"go.uber.org/zap"
)

// OCOGroup links the two legs of a one-cancels-the-other order by id.
type OCOGroup struct {
	ParentID string
	LimitID  string
	StopID   string
	// WinnerID is the first leg that filled; the other leg is cancelled.
	WinnerID string
}

// Sibling returns the other leg of legID.
func (g *OCOGroup) Sibling(legID string) string {
	if legID == g.LimitID {
		return g.StopID
	}
	return g.LimitID
}

// Legs returns both leg ids, limit first.
func (g *OCOGroup) Legs() []string {
	return []string{g.LimitID, g.StopID}
}

// RegisterOCO records the group formed by parent and its two legs.
func (m *Monitor) RegisterOCO(parent, limitLeg, stopLeg *model.Order) *OCOGroup {
	g := &OCOGroup{ParentID: parent.ID, LimitID: limitLeg.ID, StopID: stopLeg.ID}
	m.ocoGroups[parent.ID] = g
	m.ocoByLeg[limitLeg.ID] = parent.ID
	m.ocoByLeg[stopLeg.ID] = parent.ID
	return g
}

// OCOByLeg returns the group a leg belongs to.
func (m *Monitor) OCOByLeg(legID string) (*OCOGroup, bool) {
	parentID, ok := m.ocoByLeg[legID]
	if !ok {
		return nil, false
	}
	g, ok := m.ocoGroups[parentID]
	return g, ok
}

// OCO returns the group of an OCO parent.
func (m *Monitor) OCO(parentID string) (*OCOGroup, bool) {
	g, ok := m.ocoGroups[parentID]
	return g, ok
}

// ClaimOCO marks legID as the filled leg. It returns the sibling to cancel
// on the first claim and false on any later claim, so a group is resolved
// exactly once.
func (m *Monitor) ClaimOCO(legID string) (string, bool) {
	g, ok := m.OCOByLeg(legID)
	if !ok || g.WinnerID != "" {
		return "", false
	}
	g.WinnerID = legID
	m.logger.Debug("OCO leg filled, cancelling sibling",
		zap.String("order_id", legID),
		zap.String("sibling_id", g.Sibling(legID)),
		zap.String("parent_id", g.ParentID))
	return g.Sibling(legID), true
}

// ReleaseOCO forgets a group once both legs are terminal.
func (m *Monitor) ReleaseOCO(parentID string) error {
	g, ok := m.ocoGroups[parentID]
	if !ok {
		return fmt.Errorf("%w: oco %s", ErrUnknownGroup, parentID)
	}
	delete(m.ocoByLeg, g.LimitID)
	delete(m.ocoByLeg, g.StopID)
	delete(m.ocoGroups, parentID)
	return nil
}

// OCOCount returns the number of live groups.
func (m *Monitor) OCOCount() int {
	return len(m.ocoGroups)
}
