package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"carbonledger/internal/payment"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
)

const uniqueViolation = "23505"

const walletColumns = `id, user_id, currency, available_fiat, locked_fiat, available_credits, locked_credits, retired_credits, total_sold, created_at, updated_at`

const paymentColumns = `payment_id, user_id, project_id, credit_amount, price_per_unit, vintage, standard,
	base_value, amount, currency, method, status,
	fee_platform, fee_processor, fee_network, fee_total,
	locked_fiat, locked_credits,
	processor_name, processor_transaction_id, redirect_url, transaction_id,
	error_code, error_message, reconcile_attempts, needs_review,
	created_at, updated_at, completed_at`

const transactionColumns = `id, payment_id, buyer_id, project_id, credits_amount, price_per_unit, amount, currency, status, created_at, updated_at`

type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// paymentRow flattens the fee columns that Payment keeps in a nested struct.
type paymentRow struct {
	payment.Payment
	FeePlatform  decimal.Decimal `db:"fee_platform"`
	FeeProcessor decimal.Decimal `db:"fee_processor"`
	FeeNetwork   decimal.Decimal `db:"fee_network"`
	FeeTotal     decimal.Decimal `db:"fee_total"`
}

func (r *paymentRow) toPayment() *payment.Payment {
	p := r.Payment
	p.Fees = payment.Fees{
		Platform:  r.FeePlatform,
		Processor: r.FeeProcessor,
		Network:   r.FeeNetwork,
		Total:     r.FeeTotal,
	}
	return &p
}

type auditRow struct {
	payment.AuditEntry
	PaymentID  string `db:"payment_id"`
	RawDetails []byte `db:"details"`
}

func (s *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx, auditLen: make(map[string]int)}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Postgres) GetWallet(ctx context.Context, userID string) (*wallet.Wallet, error) {
	w := &wallet.Wallet{}
	err := s.db.GetContext(ctx, w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.Portfolio, err = loadPortfolio(ctx, s.db, w.ID); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Postgres) ListEntries(ctx context.Context, userID string, limit, offset int) ([]wallet.Entry, error) {
	entries := []wallet.Entry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT e.id, e.wallet_id, e.type, e.fiat_amount, e.credit_amount, e.project_id, e.reference,
		       e.available_fiat_after, e.locked_fiat_after, e.available_credits_after, e.created_at
		FROM wallet_entries e
		JOIN wallets w ON w.id = e.wallet_id
		WHERE w.user_id = $1
		ORDER BY e.id DESC
		LIMIT $2 OFFSET $3`,
		userID, normalizeLimit(limit), offset,
	)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Postgres) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	return getPayment(ctx, s.db, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, id)
}

func (s *Postgres) FindPaymentByProcessorRef(ctx context.Context, processorName, processorTxID string) (*payment.Payment, error) {
	return getPayment(ctx, s.db,
		`SELECT `+paymentColumns+` FROM payments WHERE processor_name = $1 AND processor_transaction_id = $2`,
		processorName, processorTxID)
}

func (s *Postgres) ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*payment.Payment, error) {
	var rows []paymentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status IN ('processing', 'requires_action') AND needs_review = FALSE AND updated_at < $1
		 ORDER BY updated_at
		 LIMIT $2`,
		before, normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}

	out := make([]*payment.Payment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toPayment())
	}
	return out, nil
}

func (s *Postgres) CountNeedsReview(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM payments WHERE needs_review = TRUE`)
	return n, err
}

func (s *Postgres) GetTransactionByPayment(ctx context.Context, paymentID string) (*transaction.Transaction, error) {
	t := &transaction.Transaction{}
	err := s.db.GetContext(ctx, t, `SELECT `+transactionColumns+` FROM transactions WHERE payment_id = $1`, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Postgres) ListTransactions(ctx context.Context, buyerID string, limit, offset int) ([]transaction.Transaction, error) {
	txs := []transaction.Transaction{}
	err := s.db.SelectContext(ctx, &txs,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE buyer_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		buyerID, normalizeLimit(limit), offset,
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// pgTx tracks how many audit entries of each locked payment are already
// persisted so UpdatePayment only inserts the new ones.
type pgTx struct {
	tx       *sqlx.Tx
	auditLen map[string]int
}

func (t *pgTx) LockWallet(ctx context.Context, userID, currency string) (*wallet.Wallet, error) {
	w := &wallet.Wallet{}
	err := t.tx.GetContext(ctx, w,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		// The no-op update makes the upsert return and lock the row when a
		// concurrent caller created it first.
		err = t.tx.QueryRowxContext(ctx,
			`INSERT INTO wallets (user_id, currency) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
			 RETURNING `+walletColumns,
			userID, currency,
		).StructScan(w)
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", userID, err)
	}

	if w.Portfolio, err = loadPortfolio(ctx, t.tx, w.ID); err != nil {
		return nil, err
	}
	return w, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w *wallet.Wallet) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE wallets
		 SET available_fiat = $1, locked_fiat = $2, available_credits = $3, locked_credits = $4,
		     retired_credits = $5, total_sold = $6, updated_at = $7
		 WHERE id = $8`,
		w.AvailableFiat, w.LockedFiat, w.AvailableCredits, w.LockedCredits,
		w.RetiredCredits, w.TotalSold, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM wallet_portfolio WHERE wallet_id = $1`, w.ID); err != nil {
		return fmt.Errorf("clear portfolio: %w", err)
	}

	ids := make([]string, 0, len(w.Portfolio))
	for id := range w.Portfolio {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := w.Portfolio[id]
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO wallet_portfolio (wallet_id, project_id, amount, weighted_average_price, vintage, standard)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			w.ID, id, e.Amount, e.WeightedAveragePrice, e.Vintage, e.Standard,
		)
		if err != nil {
			return fmt.Errorf("insert portfolio %s: %w", id, err)
		}
	}
	return nil
}

func (t *pgTx) AddEntry(ctx context.Context, e wallet.Entry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO wallet_entries
		 (wallet_id, type, fiat_amount, credit_amount, project_id, reference,
		  available_fiat_after, locked_fiat_after, available_credits_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.WalletID, e.Type, e.FiatAmount, e.CreditAmount, e.ProjectID, e.Reference,
		e.AvailableFiatAfter, e.LockedFiatAfter, e.AvailableCreditsAfter, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet entry: %w", err)
	}
	return nil
}

// LockPayment locks the payment row. A transaction-scoped advisory lock on
// the id comes first so a miss still blocks a concurrent creator of the same
// id until this transaction ends.
func (t *pgTx) LockPayment(ctx context.Context, id string) (*payment.Payment, error) {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return nil, fmt.Errorf("lock payment id %s: %w", id, err)
	}
	p, err := getPayment(ctx, t.tx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	t.auditLen[p.ID] = len(p.AuditTrail)
	return p, nil
}

func (t *pgTx) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES (
			:payment_id, :user_id, :project_id, :credit_amount, :price_per_unit, :vintage, :standard,
			:base_value, :amount, :currency, :method, :status,
			:fee_platform, :fee_processor, :fee_network, :fee_total,
			:locked_fiat, :locked_credits,
			:processor_name, :processor_transaction_id, :redirect_url, :transaction_id,
			:error_code, :error_message, :reconcile_attempts, :needs_review,
			:created_at, :updated_at, :completed_at)`,
		toRow(p),
	)
	if err != nil {
		return mapWriteErr("insert payment", err)
	}

	if err := t.insertAudit(ctx, p.ID, p.AuditTrail); err != nil {
		return err
	}
	t.auditLen[p.ID] = len(p.AuditTrail)
	return nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *payment.Payment) error {
	persisted, ok := t.auditLen[p.ID]
	if !ok {
		return fmt.Errorf("update payment %s: %w", p.ID, ErrNotLocked)
	}

	_, err := t.tx.NamedExecContext(ctx,
		`UPDATE payments SET
			status = :status,
			locked_fiat = :locked_fiat,
			locked_credits = :locked_credits,
			processor_name = :processor_name,
			processor_transaction_id = :processor_transaction_id,
			redirect_url = :redirect_url,
			transaction_id = :transaction_id,
			error_code = :error_code,
			error_message = :error_message,
			reconcile_attempts = :reconcile_attempts,
			needs_review = :needs_review,
			updated_at = :updated_at,
			completed_at = :completed_at
		 WHERE payment_id = :payment_id`,
		toRow(p),
	)
	if err != nil {
		return mapWriteErr("update payment", err)
	}

	if persisted < len(p.AuditTrail) {
		if err := t.insertAudit(ctx, p.ID, p.AuditTrail[persisted:]); err != nil {
			return err
		}
	}
	t.auditLen[p.ID] = len(p.AuditTrail)
	return nil
}

func (t *pgTx) insertAudit(ctx context.Context, paymentID string, entries []payment.AuditEntry) error {
	for _, e := range entries {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO payment_audit (payment_id, seq, action, actor, details, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			paymentID, e.Seq, e.Action, e.Actor, details, e.Timestamp,
		)
		if err != nil {
			return mapWriteErr("insert audit entry", err)
		}
	}
	return nil
}

func (t *pgTx) LockTransactionByPayment(ctx context.Context, paymentID string) (*transaction.Transaction, error) {
	tr := &transaction.Transaction{}
	err := t.tx.GetContext(ctx, tr,
		`SELECT `+transactionColumns+` FROM transactions WHERE payment_id = $1 FOR UPDATE`, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (t *pgTx) CreateTransaction(ctx context.Context, tr *transaction.Transaction) error {
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (
			:id, :payment_id, :buyer_id, :project_id, :credits_amount, :price_per_unit, :amount, :currency, :status,
			:created_at, :updated_at)`,
		tr,
	)
	return mapWriteErr("insert transaction", err)
}

func (t *pgTx) UpdateTransaction(ctx context.Context, tr *transaction.Transaction) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3`,
		tr.Status, tr.UpdatedAt, tr.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func toRow(p *payment.Payment) *paymentRow {
	return &paymentRow{
		Payment:      *p,
		FeePlatform:  p.Fees.Platform,
		FeeProcessor: p.Fees.Processor,
		FeeNetwork:   p.Fees.Network,
		FeeTotal:     p.Fees.Total,
	}
}

func mapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func getPayment(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*payment.Payment, error) {
	var row paymentRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p := row.toPayment()
	if p.AuditTrail, err = loadAudit(ctx, q, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func loadAudit(ctx context.Context, q sqlx.QueryerContext, paymentID string) ([]payment.AuditEntry, error) {
	var rows []auditRow
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT payment_id, seq, action, actor, details, created_at FROM payment_audit WHERE payment_id = $1 ORDER BY seq`,
		paymentID)
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}

	trail := make([]payment.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := r.AuditEntry
		if len(r.RawDetails) > 0 {
			if err := json.Unmarshal(r.RawDetails, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		trail = append(trail, e)
	}
	return trail, nil
}

func loadPortfolio(ctx context.Context, q sqlx.QueryerContext, walletID int64) (map[string]*wallet.PortfolioEntry, error) {
	var rows []wallet.PortfolioEntry
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT project_id, amount, weighted_average_price, vintage, standard FROM wallet_portfolio WHERE wallet_id = $1`,
		walletID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}

	out := make(map[string]*wallet.PortfolioEntry, len(rows))
	for i := range rows {
		out[rows[i].ProjectID] = &rows[i]
	}
	return out, nil
}
