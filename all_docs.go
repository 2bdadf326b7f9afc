package lantern

import (
	"bytes"

	"go.lanterndb.dev/lantern/internal/backend"
	"go.lanterndb.dev/lantern/internal/queue"
)

// NoLimit requests an unbounded AllDocs scan. It is not the zero value:
// spec.md §4.F/§8 give Limit == 0 its own meaning ("a row with limit=0 ...
// returns an empty page without scanning"), so "no limit" needs a sentinel
// distinct from Go's default int value.
const NoLimit = -1

// AllDocsOptions mirrors the options spec.md §4.F's all_docs() recognizes.
type AllDocsOptions struct {
	StartKey      string
	EndKey        string
	Key           string // exact-match shortcut; overrides StartKey/EndKey
	InclusiveEnd  bool
	Descending    bool
	Skip          int
	Limit         int // 0 returns an empty page without scanning; use NoLimit for unbounded
	IncludeDocs   bool
	Conflicts     bool
	Attachments   bool
	Deleted       bool // include tombstoned documents in the scan
}

// Row is one all_docs() result row.
type Row struct {
	ID    string
	Key   string
	Rev   string
	Value map[string]interface{} // {"rev": ..., "deleted": true?}
	Doc   map[string]interface{} // nil unless IncludeDocs
}

// AllDocs implements spec.md §4.F's all_docs(): an ordered scan over
// doc_store filtered to the id range, decorated with bodies and
// revision-history metadata exactly the way Get() decorates a single
// document.
func (db *Database) AllDocs(opts AllDocsOptions) ([]Row, error) {
	if db.isClosed() {
		return nil, ErrNotOpen
	}
	var (
		rows []Row
		err  error
	)
	db.q.Submit(queue.Read, func() {
		rows, err = db.allDocsLocked(opts)
	})
	return rows, err
}

func (db *Database) allDocsLocked(opts AllDocsOptions) ([]Row, error) {
	// spec.md §4.F/§8: limit=0 returns an empty page without scanning.
	if opts.Limit == 0 {
		return nil, nil
	}

	rangeOpts := backend.RangeOptions{Reverse: opts.Descending}

	// descending swaps start/end (spec.md §4.F: "reverse scan; start/end
	// swapped"): a descending caller supplies StartKey as the high bound
	// and EndKey as the low bound, CouchDB-style.
	startKey, endKey := opts.StartKey, opts.EndKey
	if opts.Descending {
		startKey, endKey = endKey, startKey
	}

	if opts.Key != "" {
		rangeOpts.Gte = []byte(opts.Key)
		rangeOpts.Lte = []byte(opts.Key)
	} else {
		if startKey != "" {
			rangeOpts.Gte = []byte(startKey)
		}
		if endKey != "" {
			rangeOpts.Lte = []byte(endKey)
		}
	}

	sc, err := db.be.RangeScan(backend.DocStore, rangeOpts)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	var out []Row
	skipped := 0
	for sc.Next() {
		row := sc.Row()
		if opts.EndKey != "" && opts.Key == "" && !opts.InclusiveEnd && bytes.Equal(row.Key, []byte(opts.EndKey)) {
			continue
		}

		meta, err := decodeMetadata(row.Value)
		if err != nil {
			return nil, err
		}
		if meta.WinningRev == "" {
			continue
		}
		if meta.Deleted && !opts.Deleted {
			continue
		}

		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		if skipped < opts.Skip {
			skipped++
			continue
		}

		id := string(row.Key)
		r := Row{
			ID:  id,
			Key: id,
			Rev: meta.WinningRev,
			Value: map[string]interface{}{
				"rev": meta.WinningRev,
			},
		}
		if meta.Deleted {
			r.Value["deleted"] = true
		}

		if opts.IncludeDocs {
			doc, err := db.getLocked(id, GetOptions{
				Rev:         meta.WinningRev,
				Conflicts:   opts.Conflicts,
				Attachments: opts.Attachments,
			})
			if err != nil {
				if _, ok := err.(*MissingError); !ok {
					return nil, err
				}
			} else {
				r.Doc = doc
			}
		}

		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
