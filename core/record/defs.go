// Package record implements slotted-page record files: fixed-size tuples
// addressed by Rid, a free-page list of non-full pages, and a forward scan.
package record

import (
	"encoding/binary"

	"github.com/sakuradb/sakura/core/storage/pager"
)

const (
	// NoPage marks an empty free-list link.
	NoPage pager.PageNo = -1
	// FirstRecordPage is the page number of the first record page; page 0
	// holds the file header.
	FirstRecordPage pager.PageNo = 1

	fileHeaderSize = 20
	pageHeaderSize = 8
)

// FileHeader is the serialized state kept on page 0 of a record file.
type FileHeader struct {
	RecordSize     int32
	SlotsPerPage   int32
	BitmapBytes    int32
	NumPages       int32
	FirstFreePage  pager.PageNo
}

func (h *FileHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.RecordSize))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.SlotsPerPage))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.BitmapBytes))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.NumPages))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(int32(h.FirstFreePage)))
}

func (h *FileHeader) decode(buf []byte) {
	h.RecordSize = int32(binary.LittleEndian.Uint32(buf[0:4]))
	h.SlotsPerPage = int32(binary.LittleEndian.Uint32(buf[4:8]))
	h.BitmapBytes = int32(binary.LittleEndian.Uint32(buf[8:12]))
	h.NumPages = int32(binary.LittleEndian.Uint32(buf[12:16]))
	h.FirstFreePage = pager.PageNo(int32(binary.LittleEndian.Uint32(buf[16:20])))
}

// slotsPerPage computes how many fixed-size slots plus their bitmap fit in
// a page after the page header.
func slotsPerPage(recordSize int) int32 {
	usable := (pager.PageSize - pageHeaderSize) * 8
	return int32(usable / (recordSize*8 + 1))
}
