// Package postgres appends verified settlements to a Postgres ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/settlement"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS settlements (
	tx_hash        TEXT PRIMARY KEY,
	action_id      TEXT NOT NULL,
	network        TEXT NOT NULL,
	topology       TEXT NOT NULL,
	vault          TEXT NOT NULL,
	receiver       TEXT NOT NULL,
	block_number   BIGINT NOT NULL,
	zero_for_one   BOOLEAN NOT NULL,
	swap_amount_in NUMERIC NOT NULL,
	min_amount_out NUMERIC NOT NULL,
	amount0_diff   NUMERIC NOT NULL,
	amount1_diff   NUMERIC NOT NULL,
	mint_amount    NUMERIC NOT NULL,
	refund0        NUMERIC NOT NULL,
	refund1        NUMERIC NOT NULL,
	scenario       TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store is the settlement ledger. It implements settlement.Recorder.
type Store struct {
	pool *pgxpool.Pool
}

var _ settlement.Recorder = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, clierr.New(clierr.CodeUsage, "postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect postgres", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the settlements table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "create settlements table", err)
	}
	return nil
}

// Row is one ledger entry. Amounts are decimal strings in base units.
type Row struct {
	TxHash       string    `json:"tx_hash"`
	ActionID     string    `json:"action_id"`
	Network      string    `json:"network"`
	Topology     string    `json:"topology"`
	Vault        string    `json:"vault"`
	Receiver     string    `json:"receiver"`
	BlockNumber  int64     `json:"block_number"`
	ZeroForOne   bool      `json:"zero_for_one"`
	SwapAmountIn string    `json:"swap_amount_in"`
	MinAmountOut string    `json:"min_amount_out"`
	Amount0Diff  string    `json:"amount0_diff"`
	Amount1Diff  string    `json:"amount1_diff"`
	MintAmount   string    `json:"mint_amount"`
	Refund0      string    `json:"refund0"`
	Refund1      string    `json:"refund1"`
	Scenario     string    `json:"scenario"`
	CreatedAt    time.Time `json:"created_at"`
}

func rowFromResult(r settlement.Result) (Row, error) {
	if r.Submission.TxHash == (common.Hash{}) {
		return Row{}, clierr.New(clierr.CodeUsage, "settlement has no transaction hash")
	}
	block := int64(0)
	if r.Submission.Block != nil {
		block = r.Submission.Block.Int64()
	}
	return Row{
		TxHash:       r.Submission.TxHash.Hex(),
		ActionID:     r.Submission.Action.ActionID,
		Network:      r.Plan.Network,
		Topology:     r.Plan.Topology,
		Vault:        r.Plan.Request.Vault.Hex(),
		Receiver:     r.Plan.Request.Receiver.Hex(),
		BlockNumber:  block,
		ZeroForOne:   r.Outcome.Swapped.ZeroForOne,
		SwapAmountIn: decimal(r.Plan.Request.SwapAmountIn),
		MinAmountOut: decimal(r.Plan.Request.SwapAmountOut),
		Amount0Diff:  decimal(r.Outcome.Swapped.Amount0Diff),
		Amount1Diff:  decimal(r.Outcome.Swapped.Amount1Diff),
		MintAmount:   decimal(r.Outcome.Minted.MintAmount),
		Refund0:      decimal(r.Outcome.Reconciliation.Refund0),
		Refund1:      decimal(r.Outcome.Reconciliation.Refund1),
		Scenario:     r.Plan.Scenario,
	}, nil
}

// Record upserts a verified settlement keyed by transaction hash.
func (s *Store) Record(ctx context.Context, result settlement.Result) error {
	row, err := rowFromResult(result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settlements (
			tx_hash, action_id, network, topology, vault, receiver, block_number, zero_for_one,
			swap_amount_in, min_amount_out, amount0_diff, amount1_diff, mint_amount, refund0, refund1, scenario
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::numeric,$10::numeric,$11::numeric,$12::numeric,$13::numeric,$14::numeric,$15::numeric,$16)
		ON CONFLICT (tx_hash)
		DO UPDATE SET
			action_id = EXCLUDED.action_id,
			block_number = EXCLUDED.block_number,
			mint_amount = EXCLUDED.mint_amount,
			refund0 = EXCLUDED.refund0,
			refund1 = EXCLUDED.refund1
	`,
		row.TxHash,
		row.ActionID,
		row.Network,
		row.Topology,
		row.Vault,
		row.Receiver,
		row.BlockNumber,
		row.ZeroForOne,
		row.SwapAmountIn,
		row.MinAmountOut,
		row.Amount0Diff,
		row.Amount1Diff,
		row.MintAmount,
		row.Refund0,
		row.Refund1,
		row.Scenario,
	)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "record settlement", err)
	}
	return nil
}

const selectColumns = `tx_hash, action_id, network, topology, vault, receiver, block_number, zero_for_one,
	swap_amount_in::text, min_amount_out::text, amount0_diff::text, amount1_diff::text,
	mint_amount::text, refund0::text, refund1::text, scenario, created_at`

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	err := row.Scan(
		&r.TxHash, &r.ActionID, &r.Network, &r.Topology, &r.Vault, &r.Receiver, &r.BlockNumber, &r.ZeroForOne,
		&r.SwapAmountIn, &r.MinAmountOut, &r.Amount0Diff, &r.Amount1Diff,
		&r.MintAmount, &r.Refund0, &r.Refund1, &r.Scenario, &r.CreatedAt,
	)
	return r, err
}

func (s *Store) Get(ctx context.Context, txHash string) (Row, error) {
	r, err := scanRow(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM settlements WHERE tx_hash = $1`, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("settlement %s not found", txHash))
		}
		return Row{}, clierr.Wrap(clierr.CodeUnavailable, "read settlement", err)
	}
	return r, nil
}

// ListByVault returns the newest settlements into vault first.
func (s *Store) ListByVault(ctx context.Context, vault string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM settlements WHERE vault = $1 ORDER BY block_number DESC LIMIT $2`, vault, limit)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "list settlements", err)
	}
	defer rows.Close()
	out := []Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "scan settlement", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "list settlements", err)
	}
	return out, nil
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
