package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"counterpos/backend/internal/cart"
	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/kv"
)

const (
	sessionPrefix = "pos:session:"
	ticketsPrefix = "pos:tickets:"

	DefaultMaxAge = 24 * time.Hour

	writeTimeout = 3 * time.Second
)

var ErrClosed = errors.New("session registry closed")

// pendingWrite is the newest unwritten payload for a key. seq is the
// number of the oldest write it stands for.
type pendingWrite struct {
	payload []byte
	seq     uint64
}

// Registry reads synchronously and writes through a single background
// writer. Queued writes coalesce per key, last write wins, so Persist never
// waits on the store.
type Registry struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	closed   bool
	pending  map[string]*pendingWrite
	order    []string
	queued   uint64
	inflight uint64
	progress chan struct{}
	wake     chan struct{}
	done     chan struct{}
}

func NewRegistry(store kv.Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultMaxAge
	}
	r := &Registry{
		store:    store,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		pending:  make(map[string]*pendingWrite),
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go r.writer()
	return r
}

func sessionKey(terminalID string) string { return sessionPrefix + terminalID }
func ticketsKey(terminalID string) string { return ticketsPrefix + terminalID }

func newSessionID(at time.Time) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("pos_%d_%s", at.UnixMilli(), raw[:9])
}

func (r *Registry) GetOrCreate(ctx context.Context, terminalID string) (domain.SessionRecord, error) {
	var rec domain.SessionRecord
	ok, err := kv.GetJSON(ctx, r.store, sessionKey(terminalID), &rec)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	if ok {
		if rec.Cart == nil {
			rec.Cart = []domain.CartLine{}
		}
		return rec, nil
	}

	now := r.now()
	rec = domain.SessionRecord{
		SessionID:   newSessionID(now),
		TerminalID:  terminalID,
		Cart:        []domain.CartLine{},
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := kv.SetJSON(ctx, r.store, sessionKey(terminalID), rec, r.ttl); err != nil {
		return domain.SessionRecord{}, err
	}
	return rec, nil
}

// Persist stamps LastUpdated and queues the write. It never blocks on I/O.
func (r *Registry) Persist(rec domain.SessionRecord) {
	rec.LastUpdated = r.now()
	r.enqueue(sessionKey(rec.TerminalID), rec)
}

func (r *Registry) Save(ctx context.Context, rec domain.SessionRecord) error {
	rec.LastUpdated = r.now()
	return kv.SetJSON(ctx, r.store, sessionKey(rec.TerminalID), rec, r.ttl)
}

func (r *Registry) PersistTickets(book domain.TicketBook) {
	book.UpdatedAt = r.now()
	r.enqueue(ticketsKey(book.TerminalID), book)
}

func (r *Registry) SaveTickets(ctx context.Context, book domain.TicketBook) error {
	book.UpdatedAt = r.now()
	return kv.SetJSON(ctx, r.store, ticketsKey(book.TerminalID), book, r.ttl)
}

func (r *Registry) LoadTickets(ctx context.Context, terminalID string) (domain.TicketBook, bool, error) {
	var book domain.TicketBook
	ok, err := kv.GetJSON(ctx, r.store, ticketsKey(terminalID), &book)
	return book, ok, err
}

// ListActive summarizes every stored session, newest first.
func (r *Registry) ListActive(ctx context.Context) ([]domain.SessionSummary, error) {
	records, err := r.records(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionSummary, 0, len(records))
	for _, rec := range records {
		shortID := rec.SessionID
		if len(shortID) > 6 {
			shortID = shortID[len(shortID)-6:]
		}
		out = append(out, domain.SessionSummary{
			ID:         rec.SessionID,
			TerminalID: rec.TerminalID,
			ShortID:    shortID,
			ItemCount:  cart.ItemCount(rec.Cart),
			Total:      cart.Subtotal(rec.Cart),
			CreatedAt:  rec.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ReapStale deletes the session and ticket book of every other terminal
// idle for longer than maxAge.
func (r *Registry) ReapStale(ctx context.Context, selfTerminalID string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	records, err := r.records(ctx)
	if err != nil {
		return 0, err
	}
	now := r.now()
	reaped := 0
	for _, rec := range records {
		if rec.TerminalID == selfTerminalID {
			continue
		}
		if now.Sub(rec.LastUpdated) <= maxAge {
			continue
		}
		if err := r.delete(ctx, rec.TerminalID); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

// Release runs when a terminal shuts down. The session survives unless
// every open ticket is empty, so a cashier can resume a half-built cart.
func (r *Registry) Release(ctx context.Context, terminalID string) (bool, error) {
	if err := r.Flush(ctx); err != nil && !errors.Is(err, ErrClosed) {
		return false, err
	}

	var rec domain.SessionRecord
	if _, err := kv.GetJSON(ctx, r.store, sessionKey(terminalID), &rec); err != nil {
		return false, err
	}
	if len(rec.Cart) > 0 {
		return false, nil
	}
	book, _, err := r.LoadTickets(ctx, terminalID)
	if err != nil {
		return false, err
	}
	for _, t := range book.Tickets {
		if t.Status != domain.TicketStatusCompleted && len(t.Lines) > 0 {
			return false, nil
		}
	}
	if err := r.delete(ctx, terminalID); err != nil {
		return false, err
	}
	return true, nil
}

// Flush waits until every write queued before the call has been applied,
// either as queued or superseded by a later write to the same key.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	target := r.queued
	for r.appliedLocked() < target {
		progress := r.progress
		r.mu.Unlock()
		select {
		case <-progress:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
	}
	r.mu.Unlock()
	return nil
}

// Close drains queued writes and stops the writer.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.signal()
	<-r.done
	return nil
}

func (r *Registry) enqueue(key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		log.Printf("[session] WARN: encode %s: %v", key, err)
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Printf("[session] WARN: dropped write to %s after close", key)
		return
	}
	r.queued++
	if w, ok := r.pending[key]; ok {
		w.payload = payload
	} else {
		r.pending[key] = &pendingWrite{payload: payload, seq: r.queued}
		r.order = append(r.order, key)
	}
	r.mu.Unlock()
	r.signal()
}

func (r *Registry) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// appliedLocked is the highest write number below which nothing is left to
// write.
func (r *Registry) appliedLocked() uint64 {
	low := r.queued + 1
	if r.inflight != 0 && r.inflight < low {
		low = r.inflight
	}
	if len(r.order) > 0 {
		if seq := r.pending[r.order[0]].seq; seq < low {
			low = seq
		}
	}
	return low - 1
}

func (r *Registry) writer() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for len(r.order) == 0 {
			if r.closed {
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			<-r.wake
			r.mu.Lock()
		}
		key := r.order[0]
		r.order = r.order[1:]
		w := r.pending[key]
		delete(r.pending, key)
		r.inflight = w.seq
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.Set(ctx, key, w.payload, r.ttl); err != nil {
			log.Printf("[session] WARN: persist %s: %v", key, err)
		}
		cancel()

		r.mu.Lock()
		r.inflight = 0
		close(r.progress)
		r.progress = make(chan struct{})
		r.mu.Unlock()
	}
}

func (r *Registry) records(ctx context.Context) ([]domain.SessionRecord, error) {
	keys, err := r.store.Keys(ctx, sessionPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionRecord, 0, len(keys))
	for _, key := range keys {
		var rec domain.SessionRecord
		ok, err := kv.GetJSON(ctx, r.store, key, &rec)
		if err != nil {
			log.Printf("[session] WARN: skip unreadable record %s: %v", key, err)
			continue
		}
		if !ok {
			continue
		}
		if rec.TerminalID == "" {
			rec.TerminalID = strings.TrimPrefix(key, sessionPrefix)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Registry) delete(ctx context.Context, terminalID string) error {
	if err := r.store.Delete(ctx, sessionKey(terminalID)); err != nil {
		return err
	}
	return r.store.Delete(ctx, ticketsKey(terminalID))
}
