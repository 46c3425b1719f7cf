// Package syncer turns the pin directory's eventually-consistent, unordered
// pin listing into a per-conversation, deduplicated, chronologically ordered
// message stream. It owns the sync index; writing the conversation store is
// left to whoever consumes its results.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/solchat-dev/solchat/internal/bus"
	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/envelope"
	"github.com/solchat-dev/solchat/internal/logging"
	"github.com/solchat-dev/solchat/internal/pinata"
	"github.com/solchat-dev/solchat/internal/syncindex"
	"go.uber.org/zap"
)

// State names the phase of the current sync cycle.
type State string

const (
	StateIdle        State = "IDLE"
	StateDiscovering State = "DISCOVERING"
	StateRetrieving  State = "RETRIEVING"
	StateIndexing    State = "INDEXING"
)

// Directory lists pinned messages relevant to a wallet since a timestamp.
type Directory interface {
	Discover(ctx context.Context, owner string, since int64) ([]pinata.Pin, error)
}

// Retriever fetches a pinned message by content address.
type Retriever interface {
	Retrieve(ctx context.Context, cid string) (*envelope.Envelope, error)
}

// SyncedMessage pairs a retrieved envelope with the content address it was
// pinned under.
type SyncedMessage struct {
	CID string             `json:"cid"`
	Env *envelope.Envelope `json:"message"`
}

// Result is what one sync cycle produced. It is the sole signal the
// conversation layer consumes.
type Result struct {
	NewMessages          []SyncedMessage `json:"newMessages"`
	UpdatedConversations []string        `json:"updatedConversations"`
	Errors               []string        `json:"errors"`
	TotalSynced          int             `json:"totalSynced"`
}

// ErrBusy is returned by operations that need exclusive index access while
// a cycle is in flight.
var ErrBusy = errors.New("sync cycle in progress")

// Syncer runs the discover/retrieve/index cycle for one wallet. At most one
// cycle is in flight at a time; a trigger while busy is dropped, not queued.
type Syncer struct {
	wallet  string
	dir     Directory
	content Retriever
	store   *syncindex.Store
	bus     *bus.Bus
	logger  *zap.Logger
	cfg     config.Sync

	mu     sync.Mutex // guards state and cancel
	state  State
	cancel context.CancelFunc

	imu   sync.Mutex // guards index
	index *syncindex.Index

	now func() time.Time
}

// New creates a syncer for wallet, loading its index from store.
func New(wallet string, dir Directory, content Retriever, store *syncindex.Store, b *bus.Bus, cfg config.Sync, logger *zap.Logger) (*Syncer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	index, err := store.Load(wallet)
	if err != nil {
		return nil, fmt.Errorf("load sync index: %w", err)
	}
	return &Syncer{
		wallet:  wallet,
		dir:     dir,
		content: content,
		store:   store,
		bus:     b,
		logger:  logger,
		cfg:     cfg,
		state:   StateIdle,
		index:   index,
		now:     time.Now,
	}, nil
}

// State returns the current cycle phase.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// begin claims the cycle slot; it fails if a cycle is already running.
func (s *Syncer) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return false
	}
	s.state = StateDiscovering
	return true
}

// Sync runs one full cycle: discover, retrieve in batches, update the
// conversation cache, persist the index. A call while a cycle is in flight
// is a no-op returning an empty result. No failure aborts the cycle;
// per-unit errors are collected and whatever progress was made is committed.
func (s *Syncer) Sync(ctx context.Context) *Result {
	res := &Result{}
	if !s.begin() {
		s.logger.Debug("sync already in progress, skipping")
		return res
	}
	defer s.setState(StateIdle)

	started := s.now()
	s.logger.Info("sync cycle started", zap.String("wallet", logging.Short(s.wallet)))

	queue := s.discover(ctx, res)

	s.setState(StateRetrieving)
	retrieved := s.retrieve(ctx, queue, res)

	s.setState(StateIndexing)
	s.commit(retrieved, res)

	sort.SliceStable(res.NewMessages, func(i, j int) bool {
		return res.NewMessages[i].Env.Timestamp < res.NewMessages[j].Env.Timestamp
	})

	s.logger.Info("sync cycle complete",
		zap.Int("synced", res.TotalSynced),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("took", s.now().Sub(started)))

	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: "sync.completed", Payload: res})
	}
	return res
}

// discover folds new directory entries into the index and returns the work
// queue: every unsynced pointer under the retry cap, chronological order.
func (s *Syncer) discover(ctx context.Context, res *Result) []*syncindex.Pointer {
	s.imu.Lock()
	since := s.index.LastSync
	s.imu.Unlock()

	pins, err := s.dir.Discover(ctx, s.wallet, since)
	if err != nil {
		// Previously known unsynced pointers are still worth retrying.
		res.Errors = append(res.Errors, fmt.Sprintf("discover: %v", err))
		s.logger.Warn("discovery failed", zap.Error(err))
	}

	s.imu.Lock()
	defer s.imu.Unlock()
	discoveredAt := s.now().UnixMilli()
	added := 0
	for _, pin := range pins {
		if s.index.AddPointer(&syncindex.Pointer{
			CID:        pin.CID,
			From:       pin.From,
			To:         pin.To,
			Timestamp:  pin.Timestamp,
			Discovered: discoveredAt,
		}) {
			added++
		}
	}
	if added > 0 {
		s.logger.Info("discovered new message pointers", zap.Int("count", added))
	}
	return s.index.Pending(s.cfg.MaxRetries)
}

type retrieval struct {
	pointer *syncindex.Pointer
	env     *envelope.Envelope
}

// retrieve fetches the queue in bounded concurrent batches with a fixed
// pause between batches. A failed address costs one retry credit and the
// batch carries on; siblings are never cancelled.
func (s *Syncer) retrieve(ctx context.Context, queue []*syncindex.Pointer, res *Result) []retrieval {
	var out []retrieval
	for start := 0; start < len(queue); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(queue) {
			end = len(queue)
		}
		batch := queue[start:end]

		type outcome struct {
			env *envelope.Envelope
			err error
		}
		outcomes := make([]outcome, len(batch))
		var wg sync.WaitGroup
		for i, p := range batch {
			wg.Add(1)
			go func(i int, cid string) {
				defer wg.Done()
				env, err := s.content.Retrieve(ctx, cid)
				outcomes[i] = outcome{env: env, err: err}
			}(i, p.CID)
		}
		wg.Wait()

		s.imu.Lock()
		for i, oc := range outcomes {
			p := batch[i]
			if oc.err != nil {
				p.RetryCount++
				res.Errors = append(res.Errors, fmt.Sprintf("retrieve %s: %v", p.CID, oc.err))
				continue
			}
			p.Synced = true
			out = append(out, retrieval{pointer: p, env: oc.env})
		}
		s.imu.Unlock()

		if end < len(queue) {
			select {
			case <-time.After(s.cfg.BatchDelay()):
			case <-ctx.Done():
				res.Errors = append(res.Errors, fmt.Sprintf("retrieval interrupted: %v", ctx.Err()))
				return out
			}
		}
	}
	return out
}

// commit updates the conversation cache with this cycle's retrievals,
// advances lastSync and persists the index. Persistence failure is recorded,
// not fatal: everything here is rediscoverable from the directory.
func (s *Syncer) commit(retrieved []retrieval, res *Result) {
	s.imu.Lock()
	defer s.imu.Unlock()

	updated := make(map[string]struct{})
	for _, r := range retrieved {
		counterparty := r.env.Counterparty(s.wallet)
		s.index.AddToConversation(counterparty, r.pointer.CID)
		updated[counterparty] = struct{}{}
		res.NewMessages = append(res.NewMessages, SyncedMessage{CID: r.pointer.CID, Env: r.env})
		res.TotalSynced++
	}
	for c := range updated {
		res.UpdatedConversations = append(res.UpdatedConversations, c)
	}
	sort.Strings(res.UpdatedConversations)

	s.index.LastSync = s.now().UnixMilli()
	if err := s.store.Save(s.index); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("persist index: %v", err))
		s.logger.Error("failed to persist sync index", zap.Error(err))
	}
}

// Start launches the periodic sync loop: one cycle immediately, then one
// per interval. Stop prevents future cycles but does not abort one already
// in flight.
func (s *Syncer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go func() {
		s.Sync(context.Background())
		ticker := time.NewTicker(s.cfg.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sync(context.Background())
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("auto-sync started", zap.Duration("interval", s.cfg.Interval()))
}

// Stop halts the periodic loop.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.logger.Info("auto-sync stopped")
	}
}

// ConversationCIDs returns the ordered content addresses cached for a
// counterparty.
func (s *Syncer) ConversationCIDs(contact string) []string {
	s.imu.Lock()
	defer s.imu.Unlock()
	cids := s.index.Conversations[contact]
	out := make([]string, len(cids))
	copy(out, cids)
	return out
}

// Stats summarizes index state for diagnostics.
func (s *Syncer) Stats() syncindex.Stats {
	s.imu.Lock()
	defer s.imu.Unlock()
	return s.index.Stats(s.cfg.MaxRetries)
}

// ClearCache wipes and persists the sync index. Fails with ErrBusy while a
// cycle is running rather than yanking state out from under it.
func (s *Syncer) ClearCache() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	s.imu.Lock()
	defer s.imu.Unlock()
	s.index.Clear()
	if err := s.store.Save(s.index); err != nil {
		return fmt.Errorf("persist cleared index: %w", err)
	}
	s.logger.Info("sync cache cleared")
	return nil
}
