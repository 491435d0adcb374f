// Package outbox journals the value-transfer instructions produced by the
// accrual engine. Instructions are recorded after the state change that
// produced them has been committed; a separate dispatcher pays them out and
// marks them dispatched.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"stakeledger/native/accrual"
)

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("outbox path must be configured")
	// ErrNotFound is returned when an instruction id is unknown.
	ErrNotFound = errors.New("outbox: instruction not found")
	// ErrAlreadyDispatched is returned when marking an instruction twice.
	ErrAlreadyDispatched = errors.New("outbox: instruction already dispatched")
)

// Instruction is one recorded transfer.
type Instruction struct {
	ID           string     `json:"id"`
	Operation    string     `json:"operation"`
	Recipient    string     `json:"recipient"`
	Asset        string     `json:"asset"`
	Amount       *big.Int   `json:"amount"`
	Reason       string     `json:"reason"`
	CreatedAt    time.Time  `json:"createdAt"`
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	Recipient   string
	PendingOnly bool
	Limit       int
}

// Store wraps the SQLite outbox table.
type Store struct {
	db *sql.DB
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// instructionNamespace seeds the deterministic ids of batched instructions.
var instructionNamespace = uuid.MustParse("4f1c2b7e-6a53-4c0e-9d8a-2f7b5e1c9a10")

// InstructionID returns the id of transfer i of batch. An empty batch yields
// a random id.
func InstructionID(batch string, i int) string {
	if batch == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(instructionNamespace, []byte(fmt.Sprintf("%s/%d", batch, i))).String()
}

// Enqueue records transfers produced by one engine operation in a single
// transaction and returns the newly stored instructions. Instructions of a
// non-empty batch get deterministic ids, so enqueueing the same batch again
// stores and returns nothing.
func (s *Store) Enqueue(ctx context.Context, batch, operation string, transfers []accrual.Transfer, at time.Time) ([]Instruction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("outbox not configured")
	}
	if len(transfers) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	created := at.UTC()
	out := make([]Instruction, 0, len(transfers))
	for i, tr := range transfers {
		if tr.Amount == nil || tr.Amount.Sign() <= 0 {
			continue
		}
		inst := Instruction{
			ID:        InstructionID(batch, i),
			Operation: operation,
			Recipient: tr.Recipient,
			Asset:     tr.Asset,
			Amount:    new(big.Int).Set(tr.Amount),
			Reason:    tr.Reason,
			CreatedAt: created,
		}
		res, err := tx.ExecContext(ctx, `
            INSERT INTO transfer_outbox(id, operation, recipient, asset, amount, reason, created_at)
            VALUES(?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO NOTHING
        `, inst.ID, inst.Operation, inst.Recipient, inst.Asset, inst.Amount.String(), inst.Reason, created.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("insert instruction: %w", err)
		}
		if inserted, err := res.RowsAffected(); err != nil {
			return nil, fmt.Errorf("insert instruction: %w", err)
		} else if inserted == 0 {
			continue
		}
		out = append(out, inst)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// List returns instructions in creation order.
func (s *Store) List(ctx context.Context, filter Filter) ([]Instruction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("outbox not configured")
	}
	query := `SELECT id, operation, recipient, asset, amount, reason, created_at, dispatched_at FROM transfer_outbox`
	var (
		clauses []string
		args    []interface{}
	)
	if recipient := strings.TrimSpace(filter.Recipient); recipient != "" {
		clauses = append(clauses, "recipient = ?")
		args = append(args, recipient)
	}
	if filter.PendingOnly {
		clauses = append(clauses, "dispatched_at IS NULL")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []Instruction
	for rows.Next() {
		var (
			inst       Instruction
			amount     string
			created    int64
			dispatched sql.NullInt64
		)
		if err := rows.Scan(&inst.ID, &inst.Operation, &inst.Recipient, &inst.Asset, &amount, &inst.Reason, &created, &dispatched); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("instruction %s: invalid amount %q", inst.ID, amount)
		}
		inst.Amount = value
		inst.CreatedAt = time.Unix(0, created).UTC()
		if dispatched.Valid {
			ts := time.Unix(0, dispatched.Int64).UTC()
			inst.DispatchedAt = &ts
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// MarkDispatched records that an instruction has been paid out.
func (s *Store) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("outbox not configured")
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE transfer_outbox SET dispatched_at = ? WHERE id = ? AND dispatched_at IS NULL
    `, at.UTC().UnixNano(), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM transfer_outbox WHERE id = ?`, strings.TrimSpace(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup instruction: %w", err)
	}
	return ErrAlreadyDispatched
}

const schema = `
CREATE TABLE IF NOT EXISTS transfer_outbox (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    operation TEXT NOT NULL,
    recipient TEXT NOT NULL,
    asset TEXT NOT NULL,
    amount TEXT NOT NULL,
    reason TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    dispatched_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_transfer_outbox_recipient ON transfer_outbox(recipient, dispatched_at);
`
