package lantern

import (
	"fmt"
	"sync"

	"go.lanterndb.dev/lantern/internal/backend"
	"go.lanterndb.dev/lantern/internal/queue"
	"go.lanterndb.dev/lantern/internal/revtree"
)

// broadcaster is the process-wide, database-name-keyed change notifier
// spec.md §4.G's live mode describes: every successful bulk write calls
// notify(name), waking every registered listener to re-run the historical
// scan from its own last_seq.
type broadcaster struct {
	mu        sync.Mutex
	listeners map[string]map[int]chan struct{}
	nextID    int
}

var changeBroadcaster = &broadcaster{listeners: make(map[string]map[int]chan struct{})}

func notifyChanges(dbName string) {
	changeBroadcaster.mu.Lock()
	defer changeBroadcaster.mu.Unlock()
	for _, ch := range changeBroadcaster.listeners[dbName] {
		select {
		case ch <- struct{}{}:
		default: // listener already has a pending wakeup queued
		}
	}
}

// listenChanges registers a wakeup channel for dbName and returns it plus a
// cancel function that removes it (spec.md §4.G "cancel handle that
// removes the listener").
func listenChanges(dbName string) (<-chan struct{}, func()) {
	changeBroadcaster.mu.Lock()
	defer changeBroadcaster.mu.Unlock()

	if changeBroadcaster.listeners[dbName] == nil {
		changeBroadcaster.listeners[dbName] = make(map[int]chan struct{})
	}
	id := changeBroadcaster.nextID
	changeBroadcaster.nextID++
	ch := make(chan struct{}, 1)
	changeBroadcaster.listeners[dbName][id] = ch

	cancel := func() {
		changeBroadcaster.mu.Lock()
		defer changeBroadcaster.mu.Unlock()
		delete(changeBroadcaster.listeners[dbName], id)
	}
	return ch, cancel
}

// Change is one entry of ChangesOptions' result or OnChange callback.
type Change = revtree.Change

// ChangesOptions mirrors spec.md §4.G's recognized options.
type ChangesOptions struct {
	Since       int64
	Descending  bool
	Limit       int // 0 means unlimited
	IncludeDocs bool
	Attachments bool
	Continuous  bool
	Filter      revtree.FilterFunc
	// OnChange, when set, is invoked once per accepted change as it is
	// found; required for Continuous mode, optional otherwise.
	OnChange func(Change)
	// ReturnDocs controls whether accepted changes are also accumulated
	// into the returned slice (spec.md §4.G "return_docs").
	ReturnDocs bool
}

// ChangesResult is the historical-scan outcome: spec.md §4.G's
// {results, last_seq}.
type ChangesResult struct {
	Results []Change
	LastSeq int64
}

// Cancel stops a continuous Changes feed started with Continuous: true.
type Cancel func()

// Changes implements spec.md §4.G: a historical scan when Continuous is
// false, or a live-tailing feed (returning immediately with a Cancel
// handle, deliveries arriving via OnChange) when true.
func (db *Database) Changes(opts ChangesOptions) (ChangesResult, Cancel, error) {
	if db.isClosed() {
		return ChangesResult{}, nil, ErrNotOpen
	}
	if !opts.Continuous {
		var (
			res ChangesResult
			err error
		)
		db.q.Submit(queue.Read, func() {
			res, err = db.scanChanges(opts, opts.Since, nil)
		})
		return res, nil, err
	}

	wake, cancel := listenChanges(db.dbName)
	lastSeq := opts.Since
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-wake:
				var res ChangesResult
				db.q.Submit(queue.Read, func() {
					res, _ = db.scanChanges(opts, lastSeq, stop)
				})
				lastSeq = res.LastSeq
			}
		}
	}()
	return ChangesResult{}, func() {
		close(stop)
		cancel()
	}, nil
}

// scanChanges performs one historical-mode pass, spec.md §4.G steps 1-5,
// starting strictly after since. stop, when non-nil, is checked at each row
// so a live-mode cancellation mid-scan stops dispatch immediately instead
// of running the scan to completion (spec.md §4.G "cancellation mid-scan is
// checked at each row").
func (db *Database) scanChanges(opts ChangesOptions, since int64, stop <-chan struct{}) (ChangesResult, error) {
	rangeOpts := backend.RangeOptions{Reverse: opts.Descending}
	if !opts.Descending {
		rangeOpts.Gte = seqKey(since + 1)
	} else {
		rangeOpts.Lte = seqKey(since)
		if since == 0 {
			rangeOpts.Lte = nil
		}
	}

	sc, err := db.be.RangeScan(backend.BySeqStore, rangeOpts)
	if err != nil {
		return ChangesResult{}, err
	}
	defer sc.Close()

	metaCache := map[string]*Metadata{}
	getMeta := func(id string) (*Metadata, error) {
		if m, ok := metaCache[id]; ok {
			return m, nil
		}
		raw, err := db.be.Get(backend.DocStore, []byte(id))
		if err != nil {
			return nil, err
		}
		m, err := decodeMetadata(raw)
		if err != nil {
			return nil, err
		}
		metaCache[id] = m
		return m, nil
	}

	var result ChangesResult
	result.LastSeq = since
	count := 0
	for sc.Next() {
		select {
		case <-stop:
			return result, nil
		default:
		}

		row := sc.Row()
		var seq int64
		if _, err := fmt.Sscanf(string(row.Key), "%d", &seq); err != nil {
			return ChangesResult{}, err
		}
		if seq > result.LastSeq {
			result.LastSeq = seq
		}

		body, err := decodeBody(row.Value)
		if err != nil {
			return ChangesResult{}, err
		}
		id, _ := body["_id"].(string)
		rev, _ := body["_rev"].(string)
		if id == "" {
			continue
		}

		meta, err := getMeta(id)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return ChangesResult{}, err
		}
		if meta.Seq != seq {
			// A later revision superseded this by_seq_store row.
			continue
		}

		winningRev := meta.WinningRev
		deleted := meta.Deleted
		doc := body
		if winningRev != rev {
			winSeq, ok := meta.RevMap[winningRev]
			if ok {
				winRaw, err := db.be.Get(backend.BySeqStore, seqKey(winSeq))
				if err == nil {
					if winBody, err := decodeBody(winRaw); err == nil {
						doc = winBody
					}
				}
			}
			rev = winningRev
		}

		change := revtree.ProcessChange(id, seq, rev, deleted, doc)
		accept, filterErr := revtree.FilterChange(change, opts.Filter)
		if filterErr != nil {
			return ChangesResult{}, filterErr
		}
		if !accept {
			continue
		}

		if opts.IncludeDocs && opts.Attachments {
			if err := db.inflateAttachments(doc); err != nil {
				return ChangesResult{}, err
			}
		}

		count++
		if opts.OnChange != nil {
			opts.OnChange(change)
		}
		if opts.ReturnDocs {
			result.Results = append(result.Results, change)
		}
		if opts.Limit > 0 && count >= opts.Limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return ChangesResult{}, err
	}
	return result, nil
}
