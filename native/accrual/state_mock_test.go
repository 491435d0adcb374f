package accrual

import (
	"errors"
	"sort"

	"stakeledger/native/essence"
)

type mockStateData struct {
	indexes     map[string]*GlobalIndex
	buffers     map[string]*RewardBuffer
	positions   map[PositionKey]*Position
	schedule    *TierSchedule
	aggregates  map[uint64]*TierAggregate
	totals      *Totals
	checkpoints map[string][]essence.Checkpoint
}

type mockEngineState struct {
	data      mockStateData
	snapshots []mockStateData

	failPutPosition error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{data: mockStateData{
		indexes:     make(map[string]*GlobalIndex),
		buffers:     make(map[string]*RewardBuffer),
		positions:   make(map[PositionKey]*Position),
		aggregates:  make(map[uint64]*TierAggregate),
		checkpoints: make(map[string][]essence.Checkpoint),
	}}
}

func (d mockStateData) clone() mockStateData {
	out := mockStateData{
		indexes:     make(map[string]*GlobalIndex, len(d.indexes)),
		buffers:     make(map[string]*RewardBuffer, len(d.buffers)),
		positions:   make(map[PositionKey]*Position, len(d.positions)),
		aggregates:  make(map[uint64]*TierAggregate, len(d.aggregates)),
		checkpoints: make(map[string][]essence.Checkpoint, len(d.checkpoints)),
		schedule:    cloneSchedule(d.schedule),
		totals:      cloneTotals(d.totals),
	}
	for k, v := range d.indexes {
		out.indexes[k] = v.Clone()
	}
	for k, v := range d.buffers {
		out.buffers[k] = v.Clone()
	}
	for k, v := range d.positions {
		out.positions[k] = v.Clone()
	}
	for k, v := range d.aggregates {
		out.aggregates[k] = cloneAggregate(v)
	}
	for k, v := range d.checkpoints {
		out.checkpoints[k] = append([]essence.Checkpoint(nil), v...)
	}
	return out
}

func cloneSchedule(s *TierSchedule) *TierSchedule {
	if s == nil {
		return nil
	}
	return &TierSchedule{Tiers: append([]Tier(nil), s.Tiers...)}
}

func cloneTotals(t *Totals) *Totals {
	if t == nil {
		return nil
	}
	return &Totals{Principal: copyBig(t.Principal), Weighted: copyBig(t.Weighted)}
}

func cloneAggregate(a *TierAggregate) *TierAggregate {
	if a == nil {
		return nil
	}
	return &TierAggregate{Duration: a.Duration, TotalPrincipal: copyBig(a.TotalPrincipal), TotalWeighted: copyBig(a.TotalWeighted)}
}

func (m *mockEngineState) Snapshot() int {
	m.snapshots = append(m.snapshots, m.data.clone())
	return len(m.snapshots) - 1
}

func (m *mockEngineState) RevertToSnapshot(id int) {
	m.data = m.snapshots[id]
	m.snapshots = m.snapshots[:id]
}

func (m *mockEngineState) AccrualIndex(asset string) (*GlobalIndex, error) {
	return m.data.indexes[asset].Clone(), nil
}

func (m *mockEngineState) PutAccrualIndex(idx *GlobalIndex) error {
	m.data.indexes[idx.Asset] = idx.Clone()
	return nil
}

func (m *mockEngineState) RewardBuffer(asset string) (*RewardBuffer, error) {
	return m.data.buffers[asset].Clone(), nil
}

func (m *mockEngineState) PutRewardBuffer(buf *RewardBuffer) error {
	m.data.buffers[buf.Asset] = buf.Clone()
	return nil
}

func (m *mockEngineState) Position(key PositionKey) (*Position, error) {
	return m.data.positions[key].Clone(), nil
}

func (m *mockEngineState) PutPosition(pos *Position) error {
	if m.failPutPosition != nil {
		return m.failPutPosition
	}
	m.data.positions[pos.Key] = pos.Clone()
	return nil
}

func (m *mockEngineState) DeletePosition(key PositionKey) error {
	delete(m.data.positions, key)
	return nil
}

func (m *mockEngineState) OwnerPositions(owner string) ([]PositionKey, error) {
	var keys []PositionKey
	for key := range m.data.positions {
		if key.Owner == owner {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Tier != keys[j].Tier {
			return keys[i].Tier < keys[j].Tier
		}
		return keys[i].LockInstant < keys[j].LockInstant
	})
	return keys, nil
}

func (m *mockEngineState) TierSchedule() (*TierSchedule, error) {
	return cloneSchedule(m.data.schedule), nil
}

func (m *mockEngineState) PutTierSchedule(schedule *TierSchedule) error {
	m.data.schedule = cloneSchedule(schedule)
	return nil
}

func (m *mockEngineState) TierAggregate(duration uint64) (*TierAggregate, error) {
	return cloneAggregate(m.data.aggregates[duration]), nil
}

func (m *mockEngineState) PutTierAggregate(agg *TierAggregate) error {
	m.data.aggregates[agg.Duration] = cloneAggregate(agg)
	return nil
}

func (m *mockEngineState) Totals() (*Totals, error) {
	return cloneTotals(m.data.totals), nil
}

func (m *mockEngineState) PutTotals(totals *Totals) error {
	m.data.totals = cloneTotals(totals)
	return nil
}

func (m *mockEngineState) EssenceCheckpointCount(owner string) (uint64, error) {
	return uint64(len(m.data.checkpoints[owner])), nil
}

func (m *mockEngineState) EssenceCheckpoint(owner string, index uint64) (essence.Checkpoint, error) {
	list := m.data.checkpoints[owner]
	if index >= uint64(len(list)) {
		return essence.Checkpoint{}, errors.New("checkpoint missing")
	}
	return list[index], nil
}

func (m *mockEngineState) PutEssenceCheckpoint(owner string, index uint64, cp essence.Checkpoint) error {
	list := append([]essence.Checkpoint(nil), m.data.checkpoints[owner]...)
	if index < uint64(len(list)) {
		list[index] = cp
	} else {
		list = append(list, cp)
	}
	m.data.checkpoints[owner] = list
	return nil
}

type staticAuthorizer map[string]bool

func (a staticAuthorizer) IsAdmin(caller string) bool { return a[caller] }

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

var errInjected = errors.New("injected failure")
