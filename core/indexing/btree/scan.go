package btree

import (
	"fmt"

	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/dberror"
)

// IndexScan walks entries in [lower, upper) in key order, slot by slot
// across the linked leaves. No page stays pinned between calls; each step
// re-fetches the current leaf on demand.
type IndexScan struct {
	ix  *Index
	cur Iid
	end Iid
}

// NewIndexScan opens a scan over the half-open Iid range [lower, upper).
func NewIndexScan(ix *Index, lower, upper Iid) *IndexScan {
	return &IndexScan{ix: ix, cur: lower, end: upper}
}

// IsEnd reports whether the scan is exhausted.
func (s *IndexScan) IsEnd() bool { return s.cur == s.end }

// Iid returns the scan's current position.
func (s *IndexScan) Iid() Iid { return s.cur }

// Rid returns the record id under the cursor.
func (s *IndexScan) Rid() (common.Rid, error) {
	if s.IsEnd() {
		return common.Rid{}, fmt.Errorf("%w: scan exhausted", dberror.ErrIndexEntryNotFound)
	}
	return s.ix.GetRid(s.cur)
}

// Key returns a copy of the key under the cursor.
func (s *IndexScan) Key() ([]byte, error) {
	if s.IsEnd() {
		return nil, fmt.Errorf("%w: scan exhausted", dberror.ErrIndexEntryNotFound)
	}
	return s.ix.GetKey(s.cur)
}

// Next advances the cursor one entry, hopping to the next leaf when the
// current one is exhausted.
func (s *IndexScan) Next() error {
	if s.IsEnd() {
		return nil
	}
	s.ix.mu.Lock()
	defer s.ix.mu.Unlock()
	node, err := s.ix.fetchNode(s.cur.PageNo)
	if err != nil {
		return err
	}
	s.cur.SlotNo++
	if s.cur.SlotNo >= node.size() && node.nextLeaf() != LeafHeaderPage {
		s.cur = Iid{PageNo: node.nextLeaf()}
	}
	s.ix.release(node, false)
	return nil
}
