// Package btree implements a clustered B+ tree index over buffer-pool
// pages: fixed-width composite keys map to record Rids, leaves form a
// doubly-linked list, and scans walk Iid positions across leaves.
package btree

import (
	"encoding/binary"

	"github.com/sakuradb/sakura/core/storage/pager"
)

const (
	// NoPage marks an absent node link: an empty root, a missing parent.
	NoPage pager.PageNo = -1
	// FileHeaderPage holds the serialized FileHeader.
	FileHeaderPage pager.PageNo = 0
	// LeafHeaderPage is the boundary marker of the leaf chain. It is a
	// reserved page number, never materialized as a node.
	LeafHeaderPage pager.PageNo = 1
	// firstNodePage is where node pages start.
	firstNodePage pager.PageNo = 2

	nodeHeaderSize = 20
	ridSize        = 8
)

// FileHeader is the serialized state kept on page 0 of an index file.
// Order is the maximum stable key count of a node; a node briefly holds
// Order+1 keys right before it splits.
type FileHeader struct {
	RootPage  pager.PageNo
	FirstLeaf pager.PageNo
	LastLeaf  pager.PageNo
	NumPages  int32
	Order     int32
	KeyLen    int32
	Cols      []IndexColumn
}

func (h *FileHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(h.RootPage)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(h.FirstLeaf)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(h.LastLeaf)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.NumPages))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.Order))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.KeyLen))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(h.Cols)))
	off := 28
	for _, c := range h.Cols {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(int32(c.Type)))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(c.Len))
		off += 8
	}
}

func (h *FileHeader) decode(buf []byte) {
	h.RootPage = pager.PageNo(int32(binary.LittleEndian.Uint32(buf[0:4])))
	h.FirstLeaf = pager.PageNo(int32(binary.LittleEndian.Uint32(buf[4:8])))
	h.LastLeaf = pager.PageNo(int32(binary.LittleEndian.Uint32(buf[8:12])))
	h.NumPages = int32(binary.LittleEndian.Uint32(buf[12:16]))
	h.Order = int32(binary.LittleEndian.Uint32(buf[16:20]))
	h.KeyLen = int32(binary.LittleEndian.Uint32(buf[20:24]))
	numCols := int32(binary.LittleEndian.Uint32(buf[24:28]))
	h.Cols = make([]IndexColumn, numCols)
	off := 28
	for i := range h.Cols {
		h.Cols[i].Type = ColType(int32(binary.LittleEndian.Uint32(buf[off : off+4])))
		h.Cols[i].Len = int32(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		off += 8
	}
}

// maxOrder computes the largest node order whose Order+1 key/rid slots fit
// a page after the node header.
func maxOrder(keyLen int32) int32 {
	slots := (pager.PageSize - nodeHeaderSize) / int(keyLen+ridSize)
	return int32(slots) - 1
}

// Iid addresses one entry of the index: a node page and a slot within it.
// The position one past the last entry of a leaf normalizes to slot 0 of
// the next leaf, except at the very end of the tree.
type Iid struct {
	PageNo pager.PageNo
	SlotNo int32
}
