package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carbonledger/internal/payment"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
)

// Memory is a single-process Store. Transactions lock per-record keys and
// stage their writes, which become visible together on commit.
type Memory struct {
	locks *keyedMutex

	mu       sync.RWMutex
	wallets  map[string]*wallet.Wallet // by user ID
	entries  map[int64][]wallet.Entry  // by wallet ID
	payments map[string]*payment.Payment

	// processor ref -> payment ID
	byRef map[string]string

	// by payment ID
	transactions map[string]*transaction.Transaction

	nextWalletID int64
	nextEntryID  int64
}

func NewMemory() *Memory {
	return &Memory{
		locks:        newKeyedMutex(),
		wallets:      make(map[string]*wallet.Wallet),
		entries:      make(map[int64][]wallet.Entry),
		payments:     make(map[string]*payment.Payment),
		byRef:        make(map[string]string),
		transactions: make(map[string]*transaction.Transaction),
	}
}

func refKey(processorName, processorTxID string) string {
	return processorName + "\x00" + processorTxID
}

func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		m:            m,
		held:         make(map[string]bool),
		wallets:      make(map[string]*wallet.Wallet),
		payments:     make(map[string]*payment.Payment),
		transactions: make(map[string]*transaction.Transaction),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) GetWallet(_ context.Context, userID string) (*wallet.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return w.Clone(), nil
}

func (m *Memory) ListEntries(_ context.Context, userID string, limit, offset int) ([]wallet.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []wallet.Entry{}
	w, ok := m.wallets[userID]
	if !ok {
		return out, nil
	}
	all := m.entries[w.ID]
	// newest first
	for i := len(all) - 1 - offset; i >= 0 && len(out) < normalizeLimit(limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Memory) GetPayment(_ context.Context, id string) (*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *Memory) FindPaymentByProcessorRef(_ context.Context, processorName, processorTxID string) (*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRef[refKey(processorName, processorTxID)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.payments[id].Clone(), nil
}

func (m *Memory) ListStalePayments(_ context.Context, before time.Time, limit int) ([]*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*payment.Payment
	for _, p := range m.payments {
		if p.Status != payment.StatusProcessing && p.Status != payment.StatusRequiresAction {
			continue
		}
		if p.NeedsReview || !p.UpdatedAt.Before(before) {
			continue
		}
		c := p.Clone()
		c.AuditTrail = nil
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if n := normalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) CountNeedsReview(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, p := range m.payments {
		if p.NeedsReview {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetTransactionByPayment(_ context.Context, paymentID string) (*transaction.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *Memory) ListTransactions(_ context.Context, buyerID string, limit, offset int) ([]transaction.Transaction, error) {
	m.mu.RLock()
	var all []transaction.Transaction
	for _, t := range m.transactions {
		if t.BuyerID == buyerID {
			all = append(all, *t)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	out := []transaction.Transaction{}
	if offset >= len(all) {
		return out, nil
	}
	all = all[offset:]
	if n := normalizeLimit(limit); len(all) > n {
		all = all[:n]
	}
	return append(out, all...), nil
}

type memTx struct {
	m    *Memory
	held map[string]bool
	keys []string

	wallets      map[string]*wallet.Wallet
	entries      []wallet.Entry
	payments     map[string]*payment.Payment
	transactions map[string]*transaction.Transaction
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.m.locks.Lock(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	t.keys = append(t.keys, key)
	return nil
}

func (t *memTx) release() {
	for i := len(t.keys) - 1; i >= 0; i-- {
		t.m.locks.Unlock(t.keys[i])
	}
	t.keys = nil
}

func walletKey(userID string) string     { return "wallet:" + userID }
func paymentKey(paymentID string) string { return "payment:" + paymentID }

func (t *memTx) LockWallet(ctx context.Context, userID, currency string) (*wallet.Wallet, error) {
	if err := t.lock(ctx, walletKey(userID)); err != nil {
		return nil, err
	}
	if w, ok := t.wallets[userID]; ok {
		return w, nil
	}

	t.m.mu.Lock()
	var w *wallet.Wallet
	if existing, ok := t.m.wallets[userID]; ok {
		w = existing.Clone()
	} else {
		t.m.nextWalletID++
		w = wallet.New(userID, currency, time.Now().UTC())
		w.ID = t.m.nextWalletID
	}
	t.m.mu.Unlock()

	t.wallets[userID] = w
	return w, nil
}

func (t *memTx) SaveWallet(_ context.Context, w *wallet.Wallet) error {
	if !t.held[walletKey(w.UserID)] {
		return fmt.Errorf("save wallet %s: %w", w.UserID, ErrNotLocked)
	}
	t.wallets[w.UserID] = w
	return nil
}

func (t *memTx) AddEntry(_ context.Context, e wallet.Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) LockPayment(ctx context.Context, id string) (*payment.Payment, error) {
	if err := t.lock(ctx, paymentKey(id)); err != nil {
		return nil, err
	}
	if p, ok := t.payments[id]; ok {
		return p, nil
	}

	t.m.mu.RLock()
	existing, ok := t.m.payments[id]
	t.m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	p := existing.Clone()
	t.payments[id] = p
	return p, nil
}

func (t *memTx) CreatePayment(ctx context.Context, p *payment.Payment) error {
	if err := t.lock(ctx, paymentKey(p.ID)); err != nil {
		return err
	}
	if _, ok := t.payments[p.ID]; ok {
		return fmt.Errorf("insert payment: %w", ErrDuplicate)
	}

	t.m.mu.RLock()
	_, exists := t.m.payments[p.ID]
	t.m.mu.RUnlock()
	if exists {
		return fmt.Errorf("insert payment: %w", ErrDuplicate)
	}

	t.payments[p.ID] = p.Clone()
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, p *payment.Payment) error {
	if _, ok := t.payments[p.ID]; !ok {
		return fmt.Errorf("update payment %s: %w", p.ID, ErrNotLocked)
	}
	t.payments[p.ID] = p.Clone()
	return nil
}

func (t *memTx) LockTransactionByPayment(ctx context.Context, paymentID string) (*transaction.Transaction, error) {
	if err := t.lock(ctx, paymentKey(paymentID)); err != nil {
		return nil, err
	}
	if tr, ok := t.transactions[paymentID]; ok {
		return tr, nil
	}

	t.m.mu.RLock()
	existing, ok := t.m.transactions[paymentID]
	t.m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	c := *existing
	t.transactions[paymentID] = &c
	return &c, nil
}

func (t *memTx) CreateTransaction(_ context.Context, tr *transaction.Transaction) error {
	if _, ok := t.transactions[tr.PaymentID]; ok {
		return fmt.Errorf("insert transaction: %w", ErrDuplicate)
	}

	t.m.mu.RLock()
	_, exists := t.m.transactions[tr.PaymentID]
	t.m.mu.RUnlock()
	if exists {
		return fmt.Errorf("insert transaction: %w", ErrDuplicate)
	}

	c := *tr
	t.transactions[tr.PaymentID] = &c
	return nil
}

func (t *memTx) UpdateTransaction(_ context.Context, tr *transaction.Transaction) error {
	if _, ok := t.transactions[tr.PaymentID]; !ok {
		return fmt.Errorf("update transaction %s: %w", tr.ID, ErrNotLocked)
	}
	c := *tr
	t.transactions[tr.PaymentID] = &c
	return nil
}

func (t *memTx) commit() error {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range t.payments {
		if p.ProcessorTransactionID == "" {
			continue
		}
		if owner, ok := m.byRef[refKey(p.ProcessorName, p.ProcessorTransactionID)]; ok && owner != id {
			return fmt.Errorf("processor reference %s: %w", p.ProcessorTransactionID, ErrDuplicate)
		}
	}

	for userID, w := range t.wallets {
		m.wallets[userID] = w.Clone()
	}
	for _, e := range t.entries {
		m.nextEntryID++
		e.ID = m.nextEntryID
		m.entries[e.WalletID] = append(m.entries[e.WalletID], e)
	}
	for id, p := range t.payments {
		m.payments[id] = p.Clone()
		if p.ProcessorTransactionID != "" {
			m.byRef[refKey(p.ProcessorName, p.ProcessorTransactionID)] = id
		}
	}
	for paymentID, tr := range t.transactions {
		c := *tr
		m.transactions[paymentID] = &c
	}
	return nil
}
