package lantern

import (
	"strconv"

	"go.lanterndb.dev/lantern/internal/backend"
	"go.lanterndb.dev/lantern/internal/jsonx"
	"go.lanterndb.dev/lantern/internal/queue"
)

// localRecord is the local_store value shape: unlike a regular document, a
// local doc's revision is stored as a bare integer counter, not a (pos,
// hash) pair (callers see it as "0-<n>", see localRev), and it never
// enters a rev tree or the change feed (spec.md §4.I, §3 invariant 6).
type localRecord struct {
	Rev  int64                  `json:"rev"`
	Body map[string]interface{} `json:"body"`
}

// GetLocal implements spec.md §4.I's get_local(): a plain key lookup with
// no revision history, no conflicts, no attachments.
func (db *Database) GetLocal(id string) (map[string]interface{}, error) {
	if db.isClosed() {
		return nil, ErrNotOpen
	}
	var (
		doc map[string]interface{}
		err error
	)
	db.q.Submit(queue.Read, func() {
		doc, err = db.getLocalLocked(id)
	})
	return doc, err
}

func (db *Database) getLocalLocked(id string) (map[string]interface{}, error) {
	raw, err := db.be.Get(backend.LocalStore, []byte(id))
	if isNotFound(err) {
		return nil, newMissing(id, "missing")
	}
	if err != nil {
		return nil, err
	}
	var rec localRecord
	if err := decodeLocal(raw, &rec); err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(rec.Body)+2)
	for k, v := range rec.Body {
		out[k] = v
	}
	out["_id"] = id
	out["_rev"] = localRev(rec.Rev)
	return out, nil
}

// PutLocal implements spec.md §4.I's put_local(): an optimistic-concurrency
// write gated on the caller's rev matching the stored counter (empty rev
// only succeeds against an absent or brand-new id).
func (db *Database) PutLocal(id string, body map[string]interface{}, rev string) (string, error) {
	if db.isClosed() {
		return "", ErrNotOpen
	}
	var (
		newRev string
		err    error
	)
	db.q.Submit(queue.Write, func() {
		newRev, err = db.putLocalLocked(id, body, rev)
	})
	return newRev, err
}

func (db *Database) putLocalLocked(id string, body map[string]interface{}, rev string) (string, error) {
	existing, existed, err := db.readLocal(id)
	if err != nil {
		return "", err
	}
	if err := checkLocalRev(id, rev, existing, existed); err != nil {
		return "", err
	}

	next := int64(1)
	if existed {
		next = existing.Rev + 1
	}
	clean := make(map[string]interface{}, len(body))
	for k, v := range body {
		if k == "_id" || k == "_rev" {
			continue
		}
		clean[k] = v
	}
	raw, err := encodeLocal(localRecord{Rev: next, Body: clean})
	if err != nil {
		return "", err
	}
	if err := db.be.Put(backend.LocalStore, []byte(id), raw); err != nil {
		return "", err
	}
	return localRev(next), nil
}

// RemoveLocal implements spec.md §4.I's remove_local(): same optimistic
// check as PutLocal, then an unconditional delete. Returns "0-0" on
// success, matching remove_local's documented {ok, id, rev: "0-0"} result.
func (db *Database) RemoveLocal(id string, rev string) (string, error) {
	if db.isClosed() {
		return "", ErrNotOpen
	}
	var (
		newRev string
		err    error
	)
	db.q.Submit(queue.Write, func() {
		newRev, err = db.removeLocalLocked(id, rev)
	})
	return newRev, err
}

func (db *Database) removeLocalLocked(id, rev string) (string, error) {
	existing, existed, err := db.readLocal(id)
	if err != nil {
		return "", err
	}
	if err := checkLocalRev(id, rev, existing, existed); err != nil {
		return "", err
	}
	if !existed {
		return "", newMissing(id, "missing")
	}
	if err := db.be.Delete(backend.LocalStore, []byte(id)); err != nil {
		return "", err
	}
	return "0-0", nil
}

func (db *Database) readLocal(id string) (localRecord, bool, error) {
	raw, err := db.be.Get(backend.LocalStore, []byte(id))
	if isNotFound(err) {
		return localRecord{}, false, nil
	}
	if err != nil {
		return localRecord{}, false, err
	}
	var rec localRecord
	if err := decodeLocal(raw, &rec); err != nil {
		return localRecord{}, false, err
	}
	return rec, true, nil
}

func checkLocalRev(id, rev string, existing localRecord, existed bool) error {
	if !existed {
		if rev != "" {
			return &RevConflictError{ID: id, Rev: rev}
		}
		return nil
	}
	if rev != localRev(existing.Rev) {
		return &RevConflictError{ID: id, Rev: rev}
	}
	return nil
}

func localRev(n int64) string {
	return "0-" + strconv.FormatInt(n, 10)
}

// encodeLocal/decodeLocal go through jsonx rather than encoding/json
// directly so a local doc's body gets the same NaN/Infinity tolerance as
// a regular document body (spec.md §3): jsonx's sanitize pass only
// recurses through map/slice values, so the record is flattened to a bare
// map before marshaling rather than passed as a struct.
func encodeLocal(rec localRecord) ([]byte, error) {
	return jsonx.Marshal(map[string]interface{}{
		"rev":  rec.Rev,
		"body": rec.Body,
	})
}

func decodeLocal(raw []byte, rec *localRecord) error {
	var m map[string]interface{}
	if err := jsonx.Unmarshal(raw, &m); err != nil {
		return err
	}
	if rv, ok := m["rev"].(float64); ok {
		rec.Rev = int64(rv)
	}
	if b, ok := m["body"].(map[string]interface{}); ok {
		rec.Body = b
	} else {
		rec.Body = map[string]interface{}{}
	}
	return nil
}
