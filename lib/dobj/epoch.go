package dobj

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// EpochManager holds, commits and slips epochs of an open container.
//
// Writers hold an epoch, write at it and commit it; once committed the epoch is
// visible to readers and no longer writable. Slip raises the lowest referenced
// epoch so older versions can be reclaimed.
type EpochManager struct {
	cont *Container

	// Last is the epoch returned by the most recent hold, also for HoldAsync.
	Last engine.Epoch
	// State is the epoch state returned by the most recent call.
	State engine.EpochState
}

func (m *EpochManager) check(op engine.Op) error {
	if !m.cont.Handle.IsValid() {
		return precondition(op, "Container needs to be open.")
	}
	return nil
}

// Container returns the container the manager belongs to.
func (m *EpochManager) Container() *Container { return m.cont }

// Hold returns a new epoch to write at.
func (m *EpochManager) Hold() (engine.Epoch, error) {
	if err := m.check(engine.OpHoldEpoch); err != nil {
		return 0, err
	}
	err := m.cont.ctx.call(engine.OpHoldEpoch, m.hold)
	return m.Last, err
}

// HoldAsync holds an epoch in the background. The callback receives the manager,
// the held epoch is in Last.
func (m *EpochManager) HoldAsync(cb Callback) error {
	if err := m.check(engine.OpHoldEpoch); err != nil {
		return err
	}
	return m.cont.ctx.dispatch(engine.OpHoldEpoch, m.hold, cb, m)
}

func (m *EpochManager) hold(e engine.IEngine) error {
	held, state, err := e.EpochHold(m.cont.Handle, 0)
	if err != nil {
		return err
	}
	m.Last, m.State = held, state
	return nil
}

// Commit commits a held epoch. Committing an epoch that was never held fails
// with an EngineError.
func (m *EpochManager) Commit(epoch engine.Epoch) error {
	return m.CommitAsync(epoch, nil)
}

// CommitAsync commits epoch, in the background when cb is not nil.
func (m *EpochManager) CommitAsync(epoch engine.Epoch, cb Callback) error {
	if err := m.check(engine.OpCommitEpoch); err != nil {
		return err
	}
	return m.cont.ctx.dispatch(engine.OpCommitEpoch, func(e engine.IEngine) error {
		state, err := e.EpochCommit(m.cont.Handle, epoch)
		if err != nil {
			return err
		}
		m.State = state
		return nil
	}, cb, m)
}

// Query returns the current epoch state of the container.
func (m *EpochManager) Query() (engine.EpochState, error) {
	if err := m.check(engine.OpQueryCont); err != nil {
		return engine.EpochState{}, err
	}
	if err := m.cont.Query(nil); err != nil {
		return engine.EpochState{}, err
	}
	m.State = m.cont.Info.Epoch
	return m.State, nil
}

// Slip raises the lowest referenced epoch to epoch.
func (m *EpochManager) Slip(epoch engine.Epoch) error {
	if err := m.check(engine.OpSlipEpoch); err != nil {
		return err
	}
	return m.cont.ctx.call(engine.OpSlipEpoch, func(e engine.IEngine) error {
		state, err := e.EpochSlip(m.cont.Handle, epoch)
		if err != nil {
			return err
		}
		m.State = state
		return nil
	})
}

// Consolidate slips to the highest committed epoch, releasing every older version.
func (m *EpochManager) Consolidate() error {
	state, err := m.Query()
	if err != nil {
		return err
	}
	return m.Slip(state.HCE)
}
