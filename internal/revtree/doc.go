package revtree

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// AttachmentStub is the attachment metadata carried inline on a parsed
// document, before the pipeline decides whether it needs hashing (a fresh
// inline body) or only stub verification (spec.md GLOSSARY "Stub").
type AttachmentStub struct {
	Digest      string `json:"digest,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Length      int64  `json:"length"`
	Stub        bool   `json:"stub,omitempty"`
	// Data holds a string inline body as submitted (base64 text, not yet
	// decoded); empty for a stub or a non-string body.
	Data []byte `json:"-"`
}

// DocInfo is the output of ParseDoc: a document body plus the single-edit
// Path ready to be merged into the id's existing tree by Merge.
type DocInfo struct {
	ID          string
	Data        map[string]interface{}
	Deleted     bool
	Attachments map[string]AttachmentStub
	Path        Branch
	// ExplicitRev is set when NewEdits is false and the caller supplied
	// _rev directly rather than letting ParseDoc compute one.
	ExplicitRev string
}

// Rev returns the rev this parse produced (the deepest node of Path).
func (d DocInfo) Rev() string {
	pos := d.Path.Pos
	n := d.Path.Root
	for len(n.Children) > 0 {
		pos++
		n = n.Children[0]
	}
	return Rev(pos, n.Hash)
}

// ParseDoc implements the distilled spec's parse_doc: given a raw document
// body and the prior winning rev (empty for a new document), it builds the
// DocInfo the bulk-write pipeline merges into the stored tree.
//
// When newEdits is true, ParseDoc computes a fresh deterministic hash for
// the edit (the revision identity is MVCC bookkeeping, not a content
// hash users are meant to verify, so a simple canonical-JSON MD5 serves).
// When newEdits is false the caller must supply _rev on the document and
// ParseDoc takes it verbatim, building Path as a single leaf at that
// (pos, hash) with no attachment chain, to be merged (or recognized as
// already present) by Merge.
func ParseDoc(raw map[string]interface{}, priorRev string, newEdits bool) (DocInfo, error) {
	id, _ := raw["_id"].(string)
	if id == "" {
		return DocInfo{}, fmt.Errorf("revtree: document missing _id")
	}

	deleted, _ := raw["_deleted"].(bool)

	data := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == "_rev" || k == "_revisions" {
			continue
		}
		data[k] = v
	}

	attachments := map[string]AttachmentStub{}
	if am, ok := raw["_attachments"].(map[string]interface{}); ok {
		for name, v := range am {
			entry, _ := v.(map[string]interface{})
			a := AttachmentStub{}
			if ct, ok := entry["content_type"].(string); ok {
				a.ContentType = ct
			}
			if d, ok := entry["digest"].(string); ok {
				a.Digest = d
			}
			if l, ok := entry["length"].(float64); ok {
				a.Length = int64(l)
			}
			if s, ok := entry["stub"].(bool); ok {
				a.Stub = s
			}
			if body, ok := entry["data"].(string); ok && !a.Stub {
				a.Data = []byte(body) // caller base64-decodes; see attachment package
			}
			attachments[name] = a
		}
	}

	info := DocInfo{ID: id, Data: data, Deleted: deleted, Attachments: attachments}

	if !newEdits {
		rev, _ := raw["_rev"].(string)
		if rev == "" {
			return DocInfo{}, fmt.Errorf("revtree: new_edits=false requires _rev")
		}
		pos, hash, err := ParseRev(rev)
		if err != nil {
			return DocInfo{}, err
		}
		info.ExplicitRev = rev
		info.Path = Branch{Pos: pos, Root: Node{Hash: hash, Status: StatusAvailable, Deleted: deleted}}
		return info, nil
	}

	var parentPos int
	var parentHash string
	if priorRev != "" {
		p, h, err := ParseRev(priorRev)
		if err != nil {
			return DocInfo{}, err
		}
		parentPos, parentHash = p, h
	}

	newHash := revHash(data, deleted, priorRev)
	leaf := Node{Hash: newHash, Status: StatusAvailable, Deleted: deleted}

	if priorRev == "" {
		info.Path = Branch{Pos: 1, Root: leaf}
	} else {
		info.Path = Branch{Pos: parentPos, Root: Node{Hash: parentHash, Status: StatusAvailable, Children: []Node{leaf}}}
	}
	return info, nil
}

// revHash computes a deterministic revision identity from a document's
// content, its deleted flag, and its parent rev, the same role PouchDB's
// MD5-of-canonical-form rev hash plays: two otherwise-identical writes
// against the same parent collide onto the same rev, realizing the
// idempotence law in spec.md §8.
func revHash(data map[string]interface{}, deleted bool, parentRev string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, data[k])
	}
	buf, _ := json.Marshal(ordered)

	h := md5.New()
	h.Write(buf)
	if deleted {
		h.Write([]byte{1})
	}
	h.Write([]byte(parentRev))
	return hex.EncodeToString(h.Sum(nil))
}
