package lantern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	opts := DefaultOptions(t.Name())
	opts.Dir = t.TempDir()
	db, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAssignsStableUUID(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions("mydb")
	opts.Dir = dir

	db1, err := Open(opts)
	require.NoError(t, err)
	id1 := db1.Id()
	require.NoError(t, db1.Close())

	db2, err := Open(opts)
	require.NoError(t, err)
	defer db2.Close()
	assert.Equal(t, id1, db2.Id())
}

func TestOpenRejectsEmptyName(t *testing.T) {
	_, err := Open(Options{})
	var badArg *BadArgumentError
	assert.ErrorAs(t, err, &badArg)
}

func TestInfoReportsZeroedCountersOnFreshDB(t *testing.T) {
	db := openTestDB(t)
	info, err := db.Info()
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.DocCount)
	assert.Equal(t, int64(0), info.UpdateSeq)
	assert.NotEmpty(t, info.UUID)
}

func TestCloseThenOperationsReturnErrNotOpen(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	_, err := db.Get("doc1", GetOptions{})
	assert.ErrorIs(t, err, ErrNotOpen)

	_, err = db.Info()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestDestroyRemovesOnDiskState(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions("todestroy")
	opts.Dir = dir

	db, err := Open(opts)
	require.NoError(t, err)
	id1 := db.Id()
	require.NoError(t, db.Close())

	require.NoError(t, Destroy(opts))

	// The database should reopen as brand new (fresh UUID).
	db2, err := Open(opts)
	require.NoError(t, err)
	defer db2.Close()
	assert.NotEqual(t, id1, db2.Id())
}

func TestGetMissingDocument(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get("nope", GetOptions{})
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "missing", missing.Reason)
}

func TestGetRejectsLocalID(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get("_local/config", GetOptions{})
	var badArg *BadArgumentError
	assert.ErrorAs(t, err, &badArg)
}

func TestBulkDocsCreateThenGet(t *testing.T) {
	db := openTestDB(t)
	results, err := db.BulkDocs([]map[string]interface{}{
		{"_id": "doc1", "name": "alice"},
	}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].OK)

	doc, err := db.Get("doc1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "alice", doc["name"])
	assert.Equal(t, "doc1", doc["_id"])
	assert.Equal(t, results[0].Rev, doc["_rev"])

	info, err := db.Info()
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.DocCount)
	assert.Equal(t, int64(1), info.UpdateSeq)
}

func TestBulkDocsDeleteMarksMissingAsDeleted(t *testing.T) {
	db := openTestDB(t)
	results, err := db.BulkDocs([]map[string]interface{}{{"_id": "doc1", "n": 1.0}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	rev1 := results[0].Rev

	results, err = db.BulkDocs([]map[string]interface{}{
		{"_id": "doc1", "_rev": rev1, "_deleted": true},
	}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	require.True(t, results[0].OK)

	_, err = db.Get("doc1", GetOptions{})
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "deleted", missing.Reason)

	info, err := db.Info()
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.DocCount)
}

func TestBulkDocsConflictIsVisibleViaGetConflicts(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{{"_id": "doc1", "n": 1.0}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	// new_edits=false lets us graft a disconnected sibling revision directly.
	results, err := db.BulkDocs([]map[string]interface{}{
		{"_id": "doc1", "_rev": "1-deadbeef", "n": 2.0},
	}, BulkDocsOptions{NewEdits: false})
	require.NoError(t, err)
	require.True(t, results[0].OK)

	doc, err := db.Get("doc1", GetOptions{Conflicts: true})
	require.NoError(t, err)
	conflicts, ok := doc["_conflicts"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, conflicts)
}

func TestGetWithRevsReturnsRevisionHistory(t *testing.T) {
	db := openTestDB(t)
	r1, err := db.BulkDocs([]map[string]interface{}{{"_id": "doc1", "n": 1.0}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	rev1 := r1[0].Rev

	r2, err := db.BulkDocs([]map[string]interface{}{{"_id": "doc1", "_rev": rev1, "n": 2.0}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	rev2 := r2[0].Rev

	doc, err := db.Get("doc1", GetOptions{Rev: rev2, Revs: true})
	require.NoError(t, err)
	history, ok := doc["_revisions"].(map[string]interface{})
	require.True(t, ok)
	ids := history["ids"].([]string)
	assert.Len(t, ids, 2)
}

func TestBulkDocsAttachmentRoundTrip(t *testing.T) {
	db := openTestDB(t)
	results, err := db.BulkDocs([]map[string]interface{}{
		{"_id": "doc1", "_attachments": map[string]interface{}{
			"a.txt": map[string]interface{}{
				"content_type": "text/plain",
				"data":         "aGVsbG8=", // "hello"
			},
		}},
	}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	require.True(t, results[0].OK)

	doc, err := db.Get("doc1", GetOptions{Attachments: true})
	require.NoError(t, err)
	am := doc["_attachments"].(map[string]interface{})
	entry := am["a.txt"].(map[string]interface{})
	assert.Equal(t, "aGVsbG8=", entry["data"])
}

func TestBulkDocsMissingStubErrorSurfacesAsRootType(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{
		{"_id": "doc1", "_attachments": map[string]interface{}{
			"a.txt": map[string]interface{}{"stub": true, "digest": "md5-missing"},
		}},
	}, BulkDocsOptions{NewEdits: true})
	require.Error(t, err)
	var stubErr *MissingStubError
	assert.ErrorAs(t, err, &stubErr)
}

func TestBulkDocsBadInlineAttachmentSurfacesAsBadArgument(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{
		{"_id": "doc1", "_attachments": map[string]interface{}{
			"a.txt": map[string]interface{}{"content_type": "text/plain", "data": "not-valid-base64!!"},
		}},
	}, BulkDocsOptions{NewEdits: true})
	require.Error(t, err)
	var badArg *BadArgumentError
	assert.ErrorAs(t, err, &badArg)
}

func TestAllDocsRangeAndSkipLimit(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{
		{"_id": "a"}, {"_id": "b"}, {"_id": "c"}, {"_id": "d"},
	}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	rows, err := db.AllDocs(AllDocsOptions{StartKey: "b", EndKey: "c", InclusiveEnd: true, Limit: NoLimit})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].ID)
	assert.Equal(t, "c", rows[1].ID)

	rows, err = db.AllDocs(AllDocsOptions{Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].ID)
	assert.Equal(t, "c", rows[1].ID)
}

func TestAllDocsLimitZeroReturnsEmptyWithoutScanning(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{{"_id": "a"}, {"_id": "b"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	rows, err := db.AllDocs(AllDocsOptions{Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAllDocsDescendingSwapsStartAndEnd(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{
		{"_id": "a"}, {"_id": "b"}, {"_id": "c"}, {"_id": "d"},
	}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	rows, err := db.AllDocs(AllDocsOptions{
		Descending:   true,
		StartKey:     "c",
		EndKey:       "b",
		InclusiveEnd: true,
		Limit:        NoLimit,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)
}

func TestAllDocsExcludesEndKeyWithoutInclusiveEnd(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{{"_id": "a"}, {"_id": "b"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	rows, err := db.AllDocs(AllDocsOptions{StartKey: "a", EndKey: "b", Limit: NoLimit})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)
}

func TestAllDocsExcludesDeletedByDefault(t *testing.T) {
	db := openTestDB(t)
	results, err := db.BulkDocs([]map[string]interface{}{{"_id": "doc1"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	_, err = db.BulkDocs([]map[string]interface{}{
		{"_id": "doc1", "_rev": results[0].Rev, "_deleted": true},
	}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	rows, err := db.AllDocs(AllDocsOptions{Limit: NoLimit})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = db.AllDocs(AllDocsOptions{Deleted: true, Limit: NoLimit})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestAllDocsIncludeDocs(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{{"_id": "doc1", "name": "alice"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	rows, err := db.AllDocs(AllDocsOptions{IncludeDocs: true, Limit: NoLimit})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Doc)
	assert.Equal(t, "alice", rows[0].Doc["name"])
}

func TestLocalDocLifecycle(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetLocal("_local/config")
	var missing *MissingError
	require.ErrorAs(t, err, &missing)

	rev1, err := db.PutLocal("_local/config", map[string]interface{}{"x": 1.0}, "")
	require.NoError(t, err)
	assert.Equal(t, "0-1", rev1)

	doc, err := db.GetLocal("_local/config")
	require.NoError(t, err)
	assert.Equal(t, 1.0, doc["x"])

	_, err = db.PutLocal("_local/config", map[string]interface{}{"x": 2.0}, "wrong-rev")
	var conflict *RevConflictError
	assert.ErrorAs(t, err, &conflict)

	rev2, err := db.PutLocal("_local/config", map[string]interface{}{"x": 2.0}, rev1)
	require.NoError(t, err)
	assert.Equal(t, "0-2", rev2)

	removeRev, err := db.RemoveLocal("_local/config", rev2)
	require.NoError(t, err)
	assert.Equal(t, "0-0", removeRev)
	_, err = db.GetLocal("_local/config")
	assert.ErrorAs(t, err, &missing)
}

func TestLocalDocsAreExcludedFromBulkDocs(t *testing.T) {
	db := openTestDB(t)
	results, err := db.BulkDocs([]map[string]interface{}{
		{"_id": "_local/config", "x": 1.0},
	}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	require.False(t, results[0].OK)
}

func TestChangesHistoricalScan(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{{"_id": "a"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	_, err = db.BulkDocs([]map[string]interface{}{{"_id": "b"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	result, cancel, err := db.Changes(ChangesOptions{ReturnDocs: true})
	require.NoError(t, err)
	assert.Nil(t, cancel)
	require.Len(t, result.Results, 2)
	assert.Equal(t, int64(2), result.LastSeq)
}

func TestChangesSinceExcludesEarlierEntries(t *testing.T) {
	db := openTestDB(t)
	_, err := db.BulkDocs([]map[string]interface{}{{"_id": "a"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	r2, err := db.BulkDocs([]map[string]interface{}{{"_id": "b"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	_ = r2

	result, _, err := db.Changes(ChangesOptions{Since: 1, ReturnDocs: true})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "b", result.Results[0].ID)
}

func TestChangesContinuousDeliversOnChangeAfterWrite(t *testing.T) {
	db := openTestDB(t)

	received := make(chan Change, 4)
	_, cancel, err := db.Changes(ChangesOptions{
		Continuous: true,
		OnChange:   func(c Change) { received <- c },
	})
	require.NoError(t, err)
	defer cancel()

	_, err = db.BulkDocs([]map[string]interface{}{{"_id": "live1"}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	select {
	case c := <-received:
		assert.Equal(t, "live1", c.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for continuous change delivery")
	}
}

func TestCompactDropsSupersededBody(t *testing.T) {
	db := openTestDB(t)
	r1, err := db.BulkDocs([]map[string]interface{}{{"_id": "doc1", "n": 1.0}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	rev1 := r1[0].Rev

	_, err = db.BulkDocs([]map[string]interface{}{{"_id": "doc1", "_rev": rev1, "n": 2.0}}, BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	require.NoError(t, db.Compact("doc1", CompactOptions{RevsToRemove: []string{rev1}}))

	_, err = db.Get("doc1", GetOptions{Rev: rev1})
	var missing *MissingError
	assert.ErrorAs(t, err, &missing)

	// The winning revision must still be readable after compacting an
	// ancestor.
	doc, err := db.Get("doc1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, doc["n"])
}

func TestCompactOfMissingDocument(t *testing.T) {
	db := openTestDB(t)
	err := db.Compact("nope", CompactOptions{RevsToRemove: []string{"1-a"}})
	var missing *MissingError
	assert.ErrorAs(t, err, &missing)
}
