package state

import (
	"fmt"
	"math/big"

	"stakeledger/native/accrual"
)

// PendingTransfers is a batch of transfer instructions committed together
// with the state change that produced them and not yet copied to the outbox.
type PendingTransfers struct {
	Seq       uint64
	Operation string
	At        uint64
	Transfers []accrual.Transfer
}

type storedTransfer struct {
	Recipient string
	Asset     string
	Amount    *big.Int
	Reason    string
}

type storedPending struct {
	Operation string
	At        uint64
	Transfers []storedTransfer
}

func (m *Manager) pendingCursor(key []byte) (uint64, error) {
	var v uint64
	if _, err := m.KVGet(key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// QueuePendingTransfers appends a batch to the pending queue and returns its
// sequence number. Batches leave the queue in order via AckPendingTransfers.
func (m *Manager) QueuePendingTransfers(operation string, at uint64, transfers []accrual.Transfer) (uint64, error) {
	seq, err := m.pendingCursor(pendingTailKey)
	if err != nil {
		return 0, err
	}
	stored := storedPending{Operation: operation, At: at, Transfers: make([]storedTransfer, 0, len(transfers))}
	for _, tr := range transfers {
		stored.Transfers = append(stored.Transfers, storedTransfer{
			Recipient: tr.Recipient,
			Asset:     tr.Asset,
			Amount:    bigOrZero(tr.Amount),
			Reason:    tr.Reason,
		})
	}
	if err := m.KVPut(uintKey(pendingTransferPrefix, seq), &stored); err != nil {
		return 0, err
	}
	if err := m.KVPut(pendingTailKey, seq+1); err != nil {
		return 0, err
	}
	return seq, nil
}

// OldestPendingTransfers returns the head of the queue or nil when empty.
func (m *Manager) OldestPendingTransfers() (*PendingTransfers, error) {
	head, err := m.pendingCursor(pendingHeadKey)
	if err != nil {
		return nil, err
	}
	tail, err := m.pendingCursor(pendingTailKey)
	if err != nil {
		return nil, err
	}
	if head >= tail {
		return nil, nil
	}
	var stored storedPending
	ok, err := m.KVGet(uintKey(pendingTransferPrefix, head), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("state: pending transfer batch %d missing", head)
	}
	out := &PendingTransfers{Seq: head, Operation: stored.Operation, At: stored.At, Transfers: make([]accrual.Transfer, 0, len(stored.Transfers))}
	for _, tr := range stored.Transfers {
		out.Transfers = append(out.Transfers, accrual.Transfer{
			Recipient: tr.Recipient,
			Asset:     tr.Asset,
			Amount:    bigOrZero(tr.Amount),
			Reason:    tr.Reason,
		})
	}
	return out, nil
}

// PendingTransferBatches reports how many batches wait for the outbox.
func (m *Manager) PendingTransferBatches() (uint64, error) {
	head, err := m.pendingCursor(pendingHeadKey)
	if err != nil {
		return 0, err
	}
	tail, err := m.pendingCursor(pendingTailKey)
	if err != nil {
		return 0, err
	}
	if head >= tail {
		return 0, nil
	}
	return tail - head, nil
}

// AckPendingTransfers removes the head batch once it is stored elsewhere.
func (m *Manager) AckPendingTransfers(seq uint64) error {
	head, err := m.pendingCursor(pendingHeadKey)
	if err != nil {
		return err
	}
	if seq != head {
		return fmt.Errorf("state: ack of pending batch %d, head is %d", seq, head)
	}
	if err := m.KVDelete(uintKey(pendingTransferPrefix, seq)); err != nil {
		return err
	}
	return m.KVPut(pendingHeadKey, head+1)
}
