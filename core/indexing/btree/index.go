package btree

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/dberror"
	"github.com/sakuradb/sakura/core/storage/bufferpool"
	"github.com/sakuradb/sakura/core/storage/disk"
	"github.com/sakuradb/sakura/core/storage/pager"
)

// Index is an open B+ tree index file. The root latch serializes every
// structural operation; page access goes through the buffer pool.
type Index struct {
	path   string
	file   pager.FileID
	bpm    *bufferpool.BufferPoolManager
	logger *zap.Logger

	mu  sync.Mutex
	hdr FileHeader
}

// CreateIndex creates an index file over the given key columns. order is
// the maximum stable key count per node; pass 0 to derive the largest
// order that fits a page.
func CreateIndex(dm *disk.DiskManager, path string, cols []IndexColumn, order int32) error {
	kl := keyLen(cols)
	if kl <= 0 {
		return fmt.Errorf("%w: empty index key", dberror.ErrInternal)
	}
	limit := maxOrder(kl)
	if order <= 0 {
		order = limit
	}
	if order < 2 || order > limit {
		return fmt.Errorf("%w: order %d out of range [2,%d] for key length %d", dberror.ErrInternal, order, limit, kl)
	}
	if err := dm.CreateFile(path); err != nil {
		return err
	}
	file, err := dm.OpenFile(path)
	if err != nil {
		return err
	}
	hdr := FileHeader{
		RootPage:  NoPage,
		FirstLeaf: LeafHeaderPage,
		LastLeaf:  LeafHeaderPage,
		NumPages:  int32(firstNodePage),
		Order:     order,
		KeyLen:    kl,
		Cols:      cols,
	}
	var buf [pager.PageSize]byte
	hdr.encode(buf[:])
	if err := dm.WritePage(pager.PageID{File: file, PageNo: FileHeaderPage}, buf[:]); err != nil {
		return err
	}
	var zero [pager.PageSize]byte
	if err := dm.WritePage(pager.PageID{File: file, PageNo: LeafHeaderPage}, zero[:]); err != nil {
		return err
	}
	dm.SetNextPageNo(file, firstNodePage)
	return dm.CloseFile(file)
}

// OpenIndex opens an index file and loads its header from page 0.
func OpenIndex(dm *disk.DiskManager, bpm *bufferpool.BufferPoolManager, path string, logger *zap.Logger) (*Index, error) {
	file, err := dm.OpenFile(path)
	if err != nil {
		return nil, err
	}
	var buf [pager.PageSize]byte
	if err := dm.ReadPage(pager.PageID{File: file, PageNo: FileHeaderPage}, buf[:]); err != nil {
		return nil, err
	}
	ix := &Index{path: path, file: file, bpm: bpm, logger: logger}
	ix.hdr.decode(buf[:])
	return ix, nil
}

// FileID returns the file handle this index was opened on.
func (ix *Index) FileID() pager.FileID { return ix.file }

// Columns returns the key schema of the index.
func (ix *Index) Columns() []IndexColumn { return ix.hdr.Cols }

// KeyLen returns the total key width in bytes.
func (ix *Index) KeyLen() int32 { return ix.hdr.KeyLen }

// Close writes the header back, flushes dirty node pages and closes the
// file.
func (ix *Index) Close(dm *disk.DiskManager) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var buf [pager.PageSize]byte
	ix.hdr.encode(buf[:])
	if err := dm.WritePage(pager.PageID{File: ix.file, PageNo: FileHeaderPage}, buf[:]); err != nil {
		return err
	}
	if err := ix.bpm.FlushAllPages(ix.file); err != nil {
		return err
	}
	return dm.CloseFile(ix.file)
}

func (ix *Index) isEmpty() bool { return ix.hdr.RootPage == NoPage }

func (ix *Index) fetchNode(pageNo pager.PageNo) (*nodeHandle, error) {
	page, err := ix.bpm.FetchPage(pager.PageID{File: ix.file, PageNo: pageNo})
	if err != nil {
		return nil, err
	}
	return newNodeHandle(&ix.hdr, page), nil
}

func (ix *Index) createNode() (*nodeHandle, error) {
	page, err := ix.bpm.NewPage(ix.file)
	if err != nil {
		return nil, err
	}
	n := newNodeHandle(&ix.hdr, page)
	n.setLeaf(false)
	n.setSize(0)
	n.setParent(NoPage)
	n.setPrevLeaf(NoPage)
	n.setNextLeaf(NoPage)
	ix.hdr.NumPages++
	return n, nil
}

func (ix *Index) release(n *nodeHandle, dirty bool) {
	ix.bpm.UnpinPage(n.page.GetPageID(), dirty)
}

// releaseNodeHandle retires a node emptied by coalesce or adjustRoot. The
// page itself is not reclaimed; NumPages tracks the logical node count.
func (ix *Index) releaseNodeHandle(n *nodeHandle) {
	ix.hdr.NumPages--
}

// findLeaf descends from the root to the leaf responsible for key,
// unpinning each internal node after reading the child pointer. The
// returned leaf is pinned.
func (ix *Index) findLeaf(key []byte) (*nodeHandle, error) {
	node, err := ix.fetchNode(ix.hdr.RootPage)
	if err != nil {
		return nil, err
	}
	for !node.isLeaf() {
		child := node.internalLookup(key)
		ix.release(node, false)
		if node, err = ix.fetchNode(child); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// GetValue looks up key and returns its Rid when present.
func (ix *Index) GetValue(key []byte) (common.Rid, bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.isEmpty() {
		return common.Rid{}, false, nil
	}
	leaf, err := ix.findLeaf(key)
	if err != nil {
		return common.Rid{}, false, err
	}
	rid, ok := leaf.leafLookup(key)
	ix.release(leaf, false)
	return rid, ok, nil
}

// InsertEntry adds key -> rid. Inserting an existing key is a no-op.
func (ix *Index) InsertEntry(key []byte, rid common.Rid) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.isEmpty() {
		root, err := ix.createNode()
		if err != nil {
			return err
		}
		root.setLeaf(true)
		root.setPrevLeaf(LeafHeaderPage)
		root.setNextLeaf(LeafHeaderPage)
		root.insertPair(0, key, rid)
		ix.hdr.RootPage = root.pageNo()
		ix.hdr.FirstLeaf = root.pageNo()
		ix.hdr.LastLeaf = root.pageNo()
		ix.release(root, true)
		return nil
	}

	leaf, err := ix.findLeaf(key)
	if err != nil {
		return err
	}
	pos, inserted := leaf.insert(key, rid)
	if !inserted {
		ix.release(leaf, false)
		return nil
	}
	if pos == 0 {
		if err := ix.maintainParent(leaf); err != nil {
			ix.release(leaf, true)
			return err
		}
	}
	if leaf.size() == leaf.maxSize() {
		newLeaf, err := ix.split(leaf)
		if err != nil {
			ix.release(leaf, true)
			return err
		}
		err = ix.insertIntoParent(leaf, newLeaf.key(0), newLeaf)
		ix.release(newLeaf, true)
		ix.release(leaf, true)
		return err
	}
	ix.release(leaf, true)
	return nil
}

// split moves the upper half of node's pairs to a freshly allocated right
// sibling and returns it pinned. The caller links the two into the parent.
func (ix *Index) split(node *nodeHandle) (*nodeHandle, error) {
	newNode, err := ix.createNode()
	if err != nil {
		return nil, err
	}
	newNode.setLeaf(node.isLeaf())
	newNode.setParent(node.parent())

	splitAt := node.size() / 2
	moved := node.size() - splitAt
	newNode.appendFrom(node, splitAt, moved)
	node.setSize(splitAt)

	if node.isLeaf() {
		newNode.setPrevLeaf(node.pageNo())
		newNode.setNextLeaf(node.nextLeaf())
		if node.nextLeaf() != LeafHeaderPage {
			next, err := ix.fetchNode(node.nextLeaf())
			if err != nil {
				ix.release(newNode, true)
				return nil, err
			}
			next.setPrevLeaf(newNode.pageNo())
			ix.release(next, true)
		} else {
			ix.hdr.LastLeaf = newNode.pageNo()
		}
		node.setNextLeaf(newNode.pageNo())
	} else {
		for i := int32(0); i < newNode.size(); i++ {
			if err := ix.maintainChild(newNode, i); err != nil {
				ix.release(newNode, true)
				return nil, err
			}
		}
	}
	return newNode, nil
}

// insertIntoParent links newNode to the right of old under their parent,
// creating a new root when old was the root and splitting the parent when
// it overflows.
func (ix *Index) insertIntoParent(old *nodeHandle, key []byte, newNode *nodeHandle) error {
	if old.isRoot() {
		root, err := ix.createNode()
		if err != nil {
			return err
		}
		root.insertPair(0, old.key(0), common.Rid{PageNo: old.pageNo()})
		root.insertPair(1, key, common.Rid{PageNo: newNode.pageNo()})
		old.setParent(root.pageNo())
		newNode.setParent(root.pageNo())
		ix.hdr.RootPage = root.pageNo()
		ix.release(root, true)
		return nil
	}

	parent, err := ix.fetchNode(old.parent())
	if err != nil {
		return err
	}
	pos := parent.findChild(old.pageNo())
	if pos < 0 {
		ix.release(parent, false)
		return fmt.Errorf("%w: node %d missing from parent %d", dberror.ErrInternal, old.pageNo(), parent.pageNo())
	}
	parent.insertPair(pos+1, key, common.Rid{PageNo: newNode.pageNo()})
	newNode.setParent(parent.pageNo())

	if parent.size() == parent.maxSize() {
		newParent, err := ix.split(parent)
		if err != nil {
			ix.release(parent, true)
			return err
		}
		err = ix.insertIntoParent(parent, newParent.key(0), newParent)
		ix.release(newParent, true)
		ix.release(parent, true)
		return err
	}
	ix.release(parent, true)
	return nil
}

// DeleteEntry removes key from the index. It returns false when the key
// is absent.
func (ix *Index) DeleteEntry(key []byte) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.isEmpty() {
		return false, nil
	}
	leaf, err := ix.findLeaf(key)
	if err != nil {
		return false, err
	}
	pos, removed := leaf.remove(key)
	if !removed {
		ix.release(leaf, false)
		return false, nil
	}
	if pos == 0 && leaf.size() > 0 {
		if err := ix.maintainParent(leaf); err != nil {
			ix.release(leaf, true)
			return false, err
		}
	}
	if leaf.isRoot() || leaf.size() < leaf.minSize() {
		err = ix.coalesceOrRedistribute(leaf)
	}
	ix.release(leaf, true)
	return true, err
}

// coalesceOrRedistribute restores the minimum-size invariant of an
// underflowing node by borrowing from a sibling or merging into it,
// recursing up the tree when the parent underflows in turn. The caller
// keeps ownership of node's pin.
func (ix *Index) coalesceOrRedistribute(node *nodeHandle) error {
	if node.isRoot() {
		return ix.adjustRoot(node)
	}
	if node.size() >= node.minSize() {
		return nil
	}

	parent, err := ix.fetchNode(node.parent())
	if err != nil {
		return err
	}
	idx := parent.findChild(node.pageNo())
	if idx < 0 {
		ix.release(parent, false)
		return fmt.Errorf("%w: node %d missing from parent %d", dberror.ErrInternal, node.pageNo(), parent.pageNo())
	}
	neighborIdx := idx - 1
	if idx == 0 {
		neighborIdx = 1
	}
	neighbor, err := ix.fetchNode(parent.childAt(neighborIdx))
	if err != nil {
		ix.release(parent, false)
		return err
	}

	if neighbor.size()+node.size() >= 2*node.minSize() {
		err = ix.redistribute(neighbor, node, parent, idx)
		ix.release(neighbor, true)
		ix.release(parent, true)
		return err
	}

	err = ix.coalesce(neighbor, node, parent, idx)
	ix.release(neighbor, true)
	ix.release(parent, true)
	return err
}

// redistribute moves one pair from neighbor into node and refreshes the
// parent's separator key. idx is node's slot in parent; idx == 0 means
// neighbor is the right sibling, otherwise the left.
func (ix *Index) redistribute(neighbor, node, parent *nodeHandle, idx int32) error {
	if idx == 0 {
		node.insertPair(node.size(), neighbor.key(0), neighbor.rid(0))
		neighbor.erasePair(0)
		if !node.isLeaf() {
			if err := ix.maintainChild(node, node.size()-1); err != nil {
				return err
			}
		}
		parent.setKey(1, neighbor.key(0))
		return nil
	}
	last := neighbor.size() - 1
	node.insertPair(0, neighbor.key(last), neighbor.rid(last))
	neighbor.erasePair(last)
	if !node.isLeaf() {
		if err := ix.maintainChild(node, 0); err != nil {
			return err
		}
	}
	parent.setKey(idx, node.key(0))
	return nil
}

// coalesce merges the right one of node/neighbor into the left one,
// removes the merged child from parent and recurses when the parent
// underflows. idx is node's slot in parent before any swap.
func (ix *Index) coalesce(neighbor, node, parent *nodeHandle, idx int32) error {
	// Merge rightward node into leftward neighbor.
	if idx == 0 {
		node, neighbor = neighbor, node
		idx = 1
	}

	prevSize := neighbor.size()
	neighbor.appendFrom(node, 0, node.size())
	if node.isLeaf() {
		ix.eraseLeaf(node)
	} else {
		for i := prevSize; i < neighbor.size(); i++ {
			if err := ix.maintainChild(neighbor, i); err != nil {
				return err
			}
		}
	}
	node.setSize(0)
	ix.releaseNodeHandle(node)

	parent.erasePair(idx)
	if parent.isRoot() || parent.size() < parent.minSize() {
		return ix.coalesceOrRedistribute(parent)
	}
	return nil
}

// adjustRoot handles root underflow: an internal root with one child is
// replaced by that child; an emptied leaf root leaves the tree empty.
func (ix *Index) adjustRoot(oldRoot *nodeHandle) error {
	if !oldRoot.isLeaf() && oldRoot.size() == 1 {
		childNo := oldRoot.childAt(0)
		child, err := ix.fetchNode(childNo)
		if err != nil {
			return err
		}
		child.setParent(NoPage)
		ix.release(child, true)
		ix.hdr.RootPage = childNo
		ix.releaseNodeHandle(oldRoot)
		return nil
	}
	if oldRoot.isLeaf() && oldRoot.size() == 0 {
		ix.hdr.RootPage = NoPage
		ix.hdr.FirstLeaf = LeafHeaderPage
		ix.hdr.LastLeaf = LeafHeaderPage
		ix.releaseNodeHandle(oldRoot)
	}
	return nil
}

// maintainParent walks up from node rewriting stale slot-0 separator keys
// until a level where the stored key already matches.
func (ix *Index) maintainParent(node *nodeHandle) error {
	cur := node
	for cur.parent() != NoPage {
		parent, err := ix.fetchNode(cur.parent())
		if err != nil {
			if cur != node {
				ix.release(cur, true)
			}
			return err
		}
		idx := parent.findChild(cur.pageNo())
		same := compareKeys(parent.key(idx), cur.key(0), ix.hdr.Cols) == 0
		if !same {
			parent.setKey(idx, cur.key(0))
		}
		if cur != node {
			ix.release(cur, true)
		}
		if same {
			ix.release(parent, false)
			return nil
		}
		cur = parent
	}
	if cur != node {
		ix.release(cur, true)
	}
	return nil
}

// maintainChild repoints the parent link of node's child at slot i back
// to node.
func (ix *Index) maintainChild(node *nodeHandle, i int32) error {
	child, err := ix.fetchNode(node.childAt(i))
	if err != nil {
		return err
	}
	child.setParent(node.pageNo())
	ix.release(child, true)
	return nil
}

// eraseLeaf unlinks a leaf from the doubly-linked chain, updating the
// first/last leaf header fields at the boundaries.
func (ix *Index) eraseLeaf(leaf *nodeHandle) error {
	prev, next := leaf.prevLeaf(), leaf.nextLeaf()
	if prev != LeafHeaderPage {
		p, err := ix.fetchNode(prev)
		if err != nil {
			return err
		}
		p.setNextLeaf(next)
		ix.release(p, true)
	} else {
		ix.hdr.FirstLeaf = next
	}
	if next != LeafHeaderPage {
		n, err := ix.fetchNode(next)
		if err != nil {
			return err
		}
		n.setPrevLeaf(prev)
		ix.release(n, true)
	} else {
		ix.hdr.LastLeaf = prev
	}
	return nil
}

// LowerBound returns the position of the first entry whose key is >= key.
func (ix *Index) LowerBound(key []byte) (Iid, error) {
	return ix.bound(key, true)
}

// UpperBound returns the position of the first entry whose key is > key.
func (ix *Index) UpperBound(key []byte) (Iid, error) {
	return ix.bound(key, false)
}

func (ix *Index) bound(key []byte, lower bool) (Iid, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.isEmpty() {
		return Iid{PageNo: LeafHeaderPage}, nil
	}
	leaf, err := ix.findLeaf(key)
	if err != nil {
		return Iid{}, err
	}
	var pos int32
	if lower {
		pos = leaf.lowerBound(key)
	} else {
		pos = leaf.upperBound(key)
	}
	iid := Iid{PageNo: leaf.pageNo(), SlotNo: pos}
	if pos == leaf.size() && leaf.nextLeaf() != LeafHeaderPage {
		iid = Iid{PageNo: leaf.nextLeaf()}
	}
	ix.release(leaf, false)
	return iid, nil
}

// LeafBegin returns the position of the smallest entry.
func (ix *Index) LeafBegin() Iid {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Iid{PageNo: ix.hdr.FirstLeaf}
}

// LeafEnd returns the position one past the largest entry.
func (ix *Index) LeafEnd() (Iid, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.isEmpty() {
		return Iid{PageNo: LeafHeaderPage}, nil
	}
	leaf, err := ix.fetchNode(ix.hdr.LastLeaf)
	if err != nil {
		return Iid{}, err
	}
	iid := Iid{PageNo: leaf.pageNo(), SlotNo: leaf.size()}
	ix.release(leaf, false)
	return iid, nil
}

// GetRid returns the Rid stored at iid.
func (ix *Index) GetRid(iid Iid) (common.Rid, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.ridAt(iid)
}

func (ix *Index) ridAt(iid Iid) (common.Rid, error) {
	node, err := ix.fetchNode(iid.PageNo)
	if err != nil {
		return common.Rid{}, err
	}
	if iid.SlotNo >= node.size() {
		ix.release(node, false)
		return common.Rid{}, fmt.Errorf("%w: %v", dberror.ErrIndexEntryNotFound, iid)
	}
	rid := node.rid(iid.SlotNo)
	ix.release(node, false)
	return rid, nil
}

// GetKey returns a copy of the key stored at iid.
func (ix *Index) GetKey(iid Iid) ([]byte, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	node, err := ix.fetchNode(iid.PageNo)
	if err != nil {
		return nil, err
	}
	if iid.SlotNo >= node.size() {
		ix.release(node, false)
		return nil, fmt.Errorf("%w: %v", dberror.ErrIndexEntryNotFound, iid)
	}
	key := make([]byte, ix.hdr.KeyLen)
	copy(key, node.key(iid.SlotNo))
	ix.release(node, false)
	return key, nil
}
