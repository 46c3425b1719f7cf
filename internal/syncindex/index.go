// Package syncindex holds the durable per-wallet record of what the
// synchronizer has discovered and retrieved: known content addresses,
// per-address sync status, and the per-counterparty ordered address lists.
// The pin directory remains the source of truth; losing an index costs one
// rediscovery, nothing more.
package syncindex

import "sort"

// Pointer is a unit of sync work: a content address that exists in the pin
// directory and may hold a message relevant to this wallet. Only the
// synchronizer mutates Synced and RetryCount.
type Pointer struct {
	CID        string `cbor:"cid"`
	From       string `cbor:"from"`
	To         string `cbor:"to"`
	Timestamp  int64  `cbor:"timestamp"`
	Discovered int64  `cbor:"discovered"`
	Synced     bool   `cbor:"synced"`
	RetryCount int    `cbor:"retryCount"`
}

// Index is the in-memory sync index for one wallet. It is owned by exactly
// one Synchronizer and is not safe for concurrent use.
type Index struct {
	Wallet        string
	LastSync      int64
	Known         map[string]struct{}
	Pointers      map[string]*Pointer
	Conversations map[string][]string
}

// NewIndex returns an empty index for wallet.
func NewIndex(wallet string) *Index {
	return &Index{
		Wallet:        wallet,
		Known:         make(map[string]struct{}),
		Pointers:      make(map[string]*Pointer),
		Conversations: make(map[string][]string),
	}
}

// AddPointer records a newly discovered address. Rediscovering a known
// address is a no-op; the return value reports whether the pointer was new.
func (ix *Index) AddPointer(p *Pointer) bool {
	if _, known := ix.Known[p.CID]; known {
		return false
	}
	ix.Known[p.CID] = struct{}{}
	ix.Pointers[p.CID] = p
	return true
}

// Pending returns the unsynced pointers still under the retry cap, sorted
// ascending by timestamp. Pointers at the cap stay in the index,
// inspectable but permanently out of the work queue.
func (ix *Index) Pending(maxRetries int) []*Pointer {
	var out []*Pointer
	for _, p := range ix.Pointers {
		if !p.Synced && p.RetryCount < maxRetries {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// AddToConversation inserts cid into the counterparty's ordered address
// list, keeping it sorted by pointer timestamp. Inserting a present cid is
// a no-op.
func (ix *Index) AddToConversation(counterparty, cid string) {
	cids := ix.Conversations[counterparty]
	for _, existing := range cids {
		if existing == cid {
			return
		}
	}
	cids = append(cids, cid)
	sort.SliceStable(cids, func(i, j int) bool {
		return ix.pointerTime(cids[i]) < ix.pointerTime(cids[j])
	})
	ix.Conversations[counterparty] = cids
}

func (ix *Index) pointerTime(cid string) int64 {
	if p, ok := ix.Pointers[cid]; ok {
		return p.Timestamp
	}
	return 0
}

// Stats summarizes index state for diagnostics.
type Stats struct {
	TotalPointers  int   `json:"totalPointers"`
	SyncedPointers int   `json:"syncedPointers"`
	PendingRetries int   `json:"pendingRetries"`
	DeadLettered   int   `json:"deadLettered"`
	Conversations  int   `json:"conversations"`
	LastSync       int64 `json:"lastSync"`
}

// Stats computes counters over the current pointer set.
func (ix *Index) Stats(maxRetries int) Stats {
	s := Stats{
		TotalPointers: len(ix.Pointers),
		Conversations: len(ix.Conversations),
		LastSync:      ix.LastSync,
	}
	for _, p := range ix.Pointers {
		switch {
		case p.Synced:
			s.SyncedPointers++
		case p.RetryCount >= maxRetries:
			s.DeadLettered++
		default:
			s.PendingRetries++
		}
	}
	return s
}

// Clear wipes all index state. Used only by the explicit cache-clear
// operation; nothing else ever deletes pointers.
func (ix *Index) Clear() {
	ix.LastSync = 0
	ix.Known = make(map[string]struct{})
	ix.Pointers = make(map[string]*Pointer)
	ix.Conversations = make(map[string][]string)
}
