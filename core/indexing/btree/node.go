package btree

import (
	"encoding/binary"

	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/storage/pager"
)

// nodeHandle is a view of one B+ tree node inside a pinned page. The
// layout is a fixed header, then Order+1 packed keys, then Order+1 Rids.
// Internal nodes store a child page number in each Rid's page field; slot
// i carries the minimum key of subtree i. The handle must not outlive the
// pin on its page.
type nodeHandle struct {
	hdr  *FileHeader
	page *pager.Page
}

func newNodeHandle(hdr *FileHeader, page *pager.Page) *nodeHandle {
	return &nodeHandle{hdr: hdr, page: page}
}

func (n *nodeHandle) pageNo() pager.PageNo { return n.page.GetPageID().PageNo }

func (n *nodeHandle) isLeaf() bool {
	return binary.LittleEndian.Uint32(n.page.GetData()[0:4]) != 0
}

func (n *nodeHandle) setLeaf(leaf bool) {
	var v uint32
	if leaf {
		v = 1
	}
	binary.LittleEndian.PutUint32(n.page.GetData()[0:4], v)
}

func (n *nodeHandle) size() int32 {
	return int32(binary.LittleEndian.Uint32(n.page.GetData()[4:8]))
}

func (n *nodeHandle) setSize(size int32) {
	binary.LittleEndian.PutUint32(n.page.GetData()[4:8], uint32(size))
}

func (n *nodeHandle) parent() pager.PageNo {
	return pager.PageNo(int32(binary.LittleEndian.Uint32(n.page.GetData()[8:12])))
}

func (n *nodeHandle) setParent(p pager.PageNo) {
	binary.LittleEndian.PutUint32(n.page.GetData()[8:12], uint32(int32(p)))
}

func (n *nodeHandle) prevLeaf() pager.PageNo {
	return pager.PageNo(int32(binary.LittleEndian.Uint32(n.page.GetData()[12:16])))
}

func (n *nodeHandle) setPrevLeaf(p pager.PageNo) {
	binary.LittleEndian.PutUint32(n.page.GetData()[12:16], uint32(int32(p)))
}

func (n *nodeHandle) nextLeaf() pager.PageNo {
	return pager.PageNo(int32(binary.LittleEndian.Uint32(n.page.GetData()[16:20])))
}

func (n *nodeHandle) setNextLeaf(p pager.PageNo) {
	binary.LittleEndian.PutUint32(n.page.GetData()[16:20], uint32(int32(p)))
}

func (n *nodeHandle) isRoot() bool { return n.parent() == NoPage }

// maxSize is the slot capacity of the node. A node splits when it reaches
// this size, so the stable maximum is maxSize-1 keys.
func (n *nodeHandle) maxSize() int32 { return n.hdr.Order + 1 }

func (n *nodeHandle) minSize() int32 { return n.maxSize() / 2 }

func (n *nodeHandle) key(i int32) []byte {
	off := nodeHeaderSize + i*n.hdr.KeyLen
	return n.page.GetData()[off : off+n.hdr.KeyLen]
}

func (n *nodeHandle) setKey(i int32, key []byte) {
	copy(n.key(i), key)
}

func (n *nodeHandle) ridOffset(i int32) int32 {
	return nodeHeaderSize + n.maxSize()*n.hdr.KeyLen + i*ridSize
}

func (n *nodeHandle) rid(i int32) common.Rid {
	off := n.ridOffset(i)
	data := n.page.GetData()
	return common.Rid{
		PageNo: pager.PageNo(int32(binary.LittleEndian.Uint32(data[off : off+4]))),
		SlotNo: int32(binary.LittleEndian.Uint32(data[off+4 : off+8])),
	}
}

func (n *nodeHandle) setRid(i int32, rid common.Rid) {
	off := n.ridOffset(i)
	data := n.page.GetData()
	binary.LittleEndian.PutUint32(data[off:off+4], uint32(int32(rid.PageNo)))
	binary.LittleEndian.PutUint32(data[off+4:off+8], uint32(rid.SlotNo))
}

// childAt returns the page number of child i of an internal node.
func (n *nodeHandle) childAt(i int32) pager.PageNo {
	return n.rid(i).PageNo
}

// lowerBound returns the first slot whose key is >= target, or size when
// every key is smaller.
func (n *nodeHandle) lowerBound(target []byte) int32 {
	size := n.size()
	for i := int32(0); i < size; i++ {
		if compareKeys(n.key(i), target, n.hdr.Cols) >= 0 {
			return i
		}
	}
	return size
}

// upperBound returns the first slot whose key is > target. Internal nodes
// start at slot 1 because slot 0 carries the minimum key of the leftmost
// subtree and does not partition the key space.
func (n *nodeHandle) upperBound(target []byte) int32 {
	i := int32(0)
	if !n.isLeaf() {
		i = 1
	}
	size := n.size()
	for ; i < size; i++ {
		if compareKeys(n.key(i), target, n.hdr.Cols) > 0 {
			return i
		}
	}
	return size
}

// internalLookup returns the child page an internal node routes key to.
func (n *nodeHandle) internalLookup(key []byte) pager.PageNo {
	return n.childAt(n.upperBound(key) - 1)
}

// leafLookup reports whether key exists in a leaf and returns its Rid.
func (n *nodeHandle) leafLookup(key []byte) (common.Rid, bool) {
	pos := n.lowerBound(key)
	if pos < n.size() && compareKeys(n.key(pos), key, n.hdr.Cols) == 0 {
		return n.rid(pos), true
	}
	return common.Rid{}, false
}

// shiftRight opens count slots at pos, moving [pos, size) toward the end.
func (n *nodeHandle) shiftRight(pos, count int32) {
	size := n.size()
	keys := n.page.GetData()[nodeHeaderSize:]
	copy(keys[(pos+count)*n.hdr.KeyLen:(size+count)*n.hdr.KeyLen], keys[pos*n.hdr.KeyLen:size*n.hdr.KeyLen])
	rids := n.page.GetData()[n.ridOffset(0):]
	copy(rids[(pos+count)*ridSize:(size+count)*ridSize], rids[pos*ridSize:size*ridSize])
}

// insertPair places one key/rid pair at pos, shifting later slots right.
func (n *nodeHandle) insertPair(pos int32, key []byte, rid common.Rid) {
	n.shiftRight(pos, 1)
	n.setSize(n.size() + 1)
	n.setKey(pos, key)
	n.setRid(pos, rid)
}

// insert places key/rid at its sorted position in a leaf. Duplicates are
// rejected silently. It returns the insert position and whether the pair
// was added.
func (n *nodeHandle) insert(key []byte, rid common.Rid) (int32, bool) {
	pos := n.lowerBound(key)
	if pos < n.size() && compareKeys(n.key(pos), key, n.hdr.Cols) == 0 {
		return pos, false
	}
	n.insertPair(pos, key, rid)
	return pos, true
}

// erasePair removes the pair at pos, shifting later slots left.
func (n *nodeHandle) erasePair(pos int32) {
	size := n.size()
	keys := n.page.GetData()[nodeHeaderSize:]
	copy(keys[pos*n.hdr.KeyLen:(size-1)*n.hdr.KeyLen], keys[(pos+1)*n.hdr.KeyLen:size*n.hdr.KeyLen])
	rids := n.page.GetData()[n.ridOffset(0):]
	copy(rids[pos*ridSize:(size-1)*ridSize], rids[(pos+1)*ridSize:size*ridSize])
	n.setSize(size - 1)
}

// remove deletes key from a leaf. It returns the former position of the
// key and whether anything was removed.
func (n *nodeHandle) remove(key []byte) (int32, bool) {
	pos := n.lowerBound(key)
	if pos >= n.size() || compareKeys(n.key(pos), key, n.hdr.Cols) != 0 {
		return pos, false
	}
	n.erasePair(pos)
	return pos, true
}

// findChild returns the slot of child pageNo in an internal node, or -1.
func (n *nodeHandle) findChild(pageNo pager.PageNo) int32 {
	for i := int32(0); i < n.size(); i++ {
		if n.childAt(i) == pageNo {
			return i
		}
	}
	return -1
}

// appendFrom copies count pairs of src starting at from onto the end of n.
func (n *nodeHandle) appendFrom(src *nodeHandle, from, count int32) {
	size := n.size()
	for i := int32(0); i < count; i++ {
		n.setKey(size+i, src.key(from+i))
		n.setRid(size+i, src.rid(from+i))
	}
	n.setSize(size + count)
}
