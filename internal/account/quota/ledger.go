package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skybi/report-server/internal/account"
	"github.com/skybi/report-server/internal/hashmap"
)

// Decision represents the outcome of an admission check
type Decision struct {
	Admitted bool `json:"admitted"`
	// Limit holds the applied per-window request limit; a negative value means unlimited
	Limit int64 `json:"limit"`
	// Used holds the amount of requests counted in the current window, including this one if it was admitted
	Used int64 `json:"used"`
	// ResetsAt holds the point in time the current window ends
	ResetsAt time.Time `json:"resets_at"`
}

// window tracks the request count of a single account (or anonymous client) within the current fixed window.
// Its mutex serializes the check-then-increment so two concurrent requests can never both slip past the limit.
type window struct {
	mtx   sync.Mutex
	start time.Time
	count int64
}

// Ledger admits or rejects requests using per-account fixed-window counters and accumulates
// admitted usage in memory to persist it to the account store in batches
type Ledger struct {
	repo account.Repository

	// windowSize defines the length of the fixed enforcement window
	windowSize time.Duration

	windows *hashmap.NormalMap[string, *window]
	pending *hashmap.NormalMap[uuid.UUID, int64]

	// now is replaceable to test window expiry without sleeping
	now func() time.Time
}

// NewLedger creates a new quota ledger enforcing limits over the given fixed window
func NewLedger(repo account.Repository, windowSize time.Duration) *Ledger {
	return &Ledger{
		repo:       repo,
		windowSize: windowSize,
		windows:    hashmap.NewNormal[string, *window](),
		pending:    hashmap.NewNormal[uuid.UUID, int64](),
		now:        time.Now,
	}
}

// AdmitAccount checks and, if the account's limit permits, counts a request for the given account
func (ledger *Ledger) AdmitAccount(acc *account.Account) Decision {
	decision := ledger.admit("account:"+acc.ID.String(), acc.Limit)
	if decision.Admitted {
		ledger.pending.Set(acc.ID, ledger.pending.Get(acc.ID)+1)
	}
	return decision
}

// AdmitAnonymous checks and counts a request for an anonymous client, keyed by its network address
func (ledger *Ledger) AdmitAnonymous(clientKey string, limit int64) Decision {
	return ledger.admit("anonymous:"+clientKey, limit)
}

// Usage returns the amount of requests already counted for the given account in the current window
func (ledger *Ledger) Usage(acc *account.Account) int64 {
	win, ok := ledger.windows.Lookup("account:" + acc.ID.String())
	if !ok {
		return 0
	}
	win.mtx.Lock()
	defer win.mtx.Unlock()
	if ledger.now().Sub(win.start) >= ledger.windowSize {
		return 0
	}
	return win.count
}

// Flush persists all accumulated usage deltas to the account store and resets them.
// Window counters are left untouched; they only ever live in memory.
func (ledger *Ledger) Flush() (int, error) {
	amount := ledger.pending.Size()
	if amount == 0 {
		return 0, nil
	}

	var err error
	ledger.pending.BootstrappedManipulation(func(raw map[uuid.UUID]int64) {
		err = ledger.repo.AddManyUsage(context.Background(), raw)
	})
	if err != nil {
		return 0, err
	}
	ledger.pending.Clear()
	return amount, nil
}

// admit performs the fixed-window check-and-increment for an arbitrary ledger key.
// The window map itself is only locked to look up or create the entry; the per-key mutex
// serializes the actual decision so unrelated keys never contend.
func (ledger *Ledger) admit(key string, limit int64) Decision {
	var win *window
	ledger.windows.BootstrappedManipulation(func(raw map[string]*window) {
		var ok bool
		win, ok = raw[key]
		if !ok {
			win = &window{start: ledger.now()}
			raw[key] = win
		}
	})

	win.mtx.Lock()
	defer win.mtx.Unlock()

	now := ledger.now()
	if now.Sub(win.start) >= ledger.windowSize {
		win.start = now
		win.count = 0
	}

	decision := Decision{
		Limit:    limit,
		ResetsAt: win.start.Add(ledger.windowSize),
	}
	if limit >= 0 && win.count >= limit {
		decision.Used = win.count
		return decision
	}
	win.count++
	decision.Admitted = true
	decision.Used = win.count
	return decision
}
