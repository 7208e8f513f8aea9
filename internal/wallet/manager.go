package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

type entry struct {
	w     *Wallet
	timer *time.Timer
}

// Manager owns every ephemeral wallet for its lifetime: creation, lookup,
// claiming for a relay, and destruction.
type Manager struct {
	mu      sync.Mutex
	wallets map[string]*entry

	store        *Store
	ttl          time.Duration
	tombstoneTTL time.Duration
	log          *zap.Logger

	now func() time.Time
}

// NewManager returns a Manager whose wallets are destroyed ttl after creation.
// tombstoneTTL should cover the resumption token lifetime.
func NewManager(store *Store, ttl, tombstoneTTL time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		wallets:      make(map[string]*entry),
		store:        store,
		ttl:          ttl,
		tombstoneTTL: tombstoneTTL,
		log:          log,
		now:          time.Now,
	}
}

// Create generates a fresh keypair, persists it, and schedules its destruction.
func (m *Manager) Create(ctx context.Context) (*Wallet, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	now := m.now()
	w := &Wallet{
		Address:   key.PublicKey(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		key:       key,
	}
	if err := m.store.Save(ctx, w); err != nil {
		w.erase()
		return nil, fmt.Errorf("persist wallet: %w", err)
	}

	m.mu.Lock()
	m.register(w, true)
	m.mu.Unlock()

	m.log.Info("wallet created",
		zap.String("wallet", w.Address.String()),
		zap.Time("expires_at", w.ExpiresAt),
	)
	return w, nil
}

// Resolve looks in memory first, then in the durable store.
func (m *Manager) Resolve(ctx context.Context, addr string) (*Wallet, error) {
	m.mu.Lock()
	if e, ok := m.wallets[addr]; ok {
		m.mu.Unlock()
		return e.w, nil
	}
	m.mu.Unlock()

	rec, err := m.store.Get(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalletNotFound, err)
	}
	if rec == nil {
		return nil, ErrWalletNotFound
	}
	w := m.fromRecord(rec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.wallets[addr]; ok {
		w.erase()
		return e.w, nil
	}
	m.register(w, !rec.Stranded)
	return w, nil
}

// Acquire resolves addr and marks it used. When neither memory nor the store
// knows the wallet, fallback (decoded from a resumption token) is adopted.
// A wallet can be acquired once.
func (m *Manager) Acquire(ctx context.Context, addr string, fallback *Claims) (*Wallet, error) {
	dead, err := m.store.IsTombstoned(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("check tombstone: %w", err)
	}
	if dead {
		return nil, ErrWalletUsed
	}

	w, err := m.Resolve(ctx, addr)
	if errors.Is(err, ErrWalletNotFound) && fallback != nil && fallback.Address.String() == addr {
		w, err = m.adopt(ctx, fallback)
	}
	if err != nil {
		return nil, err
	}

	if err := w.claim(); err != nil {
		return nil, err
	}
	if err := m.store.MarkUsed(ctx, addr); err != nil {
		m.log.Warn("mark wallet used", zap.String("wallet", addr), zap.Error(err))
	}
	return w, nil
}

// Cancel destroys an unclaimed wallet. It returns ErrWalletUsed when a
// confirm already holds it. Unknown wallets are destroyed anyway so the
// tombstone blocks a later adoption from the token.
func (m *Manager) Cancel(ctx context.Context, addr string) error {
	if w, err := m.Resolve(ctx, addr); err == nil {
		if err := w.claim(); errors.Is(err, ErrWalletUsed) {
			return err
		}
	}
	m.Destroy(ctx, addr)
	return nil
}

func (m *Manager) adopt(ctx context.Context, c *Claims) (*Wallet, error) {
	w := &Wallet{
		Address:   c.Address,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.CreatedAt.Add(m.ttl),
		key:       append(solana.PrivateKey(nil), c.Key...),
	}
	if !m.now().Before(w.ExpiresAt) {
		return nil, ErrWalletNotFound
	}
	if err := m.store.Save(ctx, w); err != nil {
		m.log.Warn("persist adopted wallet", zap.String("wallet", c.Address.String()), zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.wallets[w.Address.String()]; ok {
		w.erase()
		return e.w, nil
	}
	m.register(w, true)
	m.log.Info("wallet restored from token", zap.String("wallet", w.Address.String()))
	return w, nil
}

// Destroy erases key material and removes every copy. Missing wallets are
// not an error.
func (m *Manager) Destroy(ctx context.Context, addr string) {
	m.mu.Lock()
	e, ok := m.wallets[addr]
	if ok {
		delete(m.wallets, addr)
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	m.mu.Unlock()
	if ok {
		e.w.erase()
	}

	if err := m.store.Delete(ctx, addr); err != nil {
		m.log.Error("delete wallet record", zap.String("wallet", addr), zap.Error(err))
	}
	if err := m.store.Tombstone(ctx, addr, m.tombstoneTTL); err != nil {
		m.log.Warn("tombstone wallet", zap.String("wallet", addr), zap.Error(err))
	}
	if ok {
		m.log.Info("wallet destroyed", zap.String("wallet", addr))
	}
}

// Strand keeps a funds-bearing wallet for manual recovery: its expiry timer
// is cancelled and the sweep will skip its durable record.
func (m *Manager) Strand(ctx context.Context, addr string) error {
	m.mu.Lock()
	if e, ok := m.wallets[addr]; ok && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	m.mu.Unlock()

	if err := m.store.MarkStranded(ctx, addr); err != nil {
		return fmt.Errorf("mark stranded %s: %w", addr, err)
	}
	m.log.Warn("wallet stranded, manual recovery required", zap.String("wallet", addr))
	return nil
}

// Sweep destroys persisted wallets older than maxAge. Stranded wallets are
// left alone.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	records, err := m.store.ScanRecords(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	swept := 0
	for _, rec := range records {
		if rec.Stranded || rec.Age(now) <= maxAge {
			continue
		}
		m.Destroy(ctx, rec.Address)
		swept++
	}
	if swept > 0 {
		m.log.Info("swept stale wallets", zap.Int("count", swept), zap.Duration("max_age", maxAge))
	}
	return swept, nil
}

// Count returns the number of wallets held in memory.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.wallets)
}

func (m *Manager) fromRecord(rec *Record) *Wallet {
	created := time.Unix(rec.CreatedAt, 0)
	return &Wallet{
		Address:   rec.Key.PublicKey(),
		CreatedAt: created,
		ExpiresAt: created.Add(m.ttl),
		key:       rec.Key,
		used:      rec.Used,
	}
}

// register must be called with m.mu held.
func (m *Manager) register(w *Wallet, expire bool) {
	addr := w.Address.String()
	e := &entry{w: w}
	m.wallets[addr] = e
	if !expire {
		return
	}
	remaining := w.ExpiresAt.Sub(m.now())
	if remaining < 0 {
		remaining = 0
	}
	e.timer = time.AfterFunc(remaining, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.log.Info("wallet ttl elapsed", zap.String("wallet", addr))
		m.Destroy(ctx, addr)
	})
}
