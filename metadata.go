package lantern

import (
	"fmt"

	"go.lanterndb.dev/lantern/internal/jsonx"
	"go.lanterndb.dev/lantern/internal/revtree"
)

// Metadata is the doc_store value shape from spec.md §3: per-document
// bookkeeping the engine owns, as distinct from the document body itself
// (which lives in by_seq_store).
type Metadata struct {
	ID         string           `json:"id"`
	RevTree    revtree.Tree     `json:"rev_tree"`
	RevMap     map[string]int64 `json:"rev_map"`
	WinningRev string           `json:"winningRev,omitempty"`
	Deleted    bool             `json:"deleted,omitempty"`
	Seq        int64            `json:"seq,omitempty"`
}

func newMetadata(id string) *Metadata {
	return &Metadata{ID: id, RevMap: map[string]int64{}}
}

func encodeMetadata(m *Metadata) ([]byte, error) {
	return jsonx.Marshal(m)
}

func decodeMetadata(raw []byte) (*Metadata, error) {
	var m Metadata
	if err := jsonx.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("lantern: corrupt metadata: %w", err)
	}
	if m.RevMap == nil {
		m.RevMap = map[string]int64{}
	}
	return &m, nil
}

// seqKey renders an update sequence as the fixed-width decimal key format
// spec.md §6 reserves for by_seq_store.
func seqKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%0*d", seqKeyWidth, seq))
}

func encodeBody(body map[string]interface{}) ([]byte, error) {
	return jsonx.Marshal(body)
}

func decodeBody(raw []byte) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := jsonx.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("lantern: corrupt document body: %w", err)
	}
	return body, nil
}
