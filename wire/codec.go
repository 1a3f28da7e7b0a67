package wire

import (
	"encoding/binary"
	"errors"

	"github.com/spmdkit/overlap/indexset"
)

var (
	// ErrBufferOverflow means a pack operation ran past the capacity that
	// was computed for it. The sizing came from the transport's own
	// estimator, so this is an internal miscalculation and fatal.
	ErrBufferOverflow = errors.New("wire: record does not fit the buffer")
	// ErrTruncated means a decode ran out of bytes mid-record.
	ErrTruncated = errors.New("wire: truncated record")
)

// Packed record layout, little-endian:
//
//	global index  uint64
//	local slot    uint32
//	attribute     byte
//	flags         byte (bit 0: public, bit 1: deleted)
const RecordSize = 14

// Payload header: a two-sets flag plus the two publish counts.
const HeaderSize = 1 + 4 + 4

const (
	flagPublic  = 1 << 0
	flagDeleted = 1 << 1
)

// AppendRecord packs one pair at *cursor and advances the cursor. The
// buffer length is the capacity; exceeding it yields ErrBufferOverflow.
func AppendRecord(buf []byte, cursor *int, p *indexset.Pair) error {
	if *cursor+RecordSize > len(buf) {
		return ErrBufferOverflow
	}
	b := buf[*cursor:]
	binary.LittleEndian.PutUint64(b[0:8], p.Global())
	lx := p.Local()
	binary.LittleEndian.PutUint32(b[8:12], lx.Slot())
	b[12] = byte(lx.Attribute())
	var flags byte
	if lx.IsPublic() {
		flags |= flagPublic
	}
	if lx.State() == indexset.Deleted {
		flags |= flagDeleted
	}
	b[13] = flags
	*cursor += RecordSize
	return nil
}

// TakeRecord unpacks one record at *cursor and advances the cursor.
func TakeRecord(buf []byte, cursor *int) (global uint64, local indexset.Local, err error) {
	if *cursor+RecordSize > len(buf) {
		return 0, local, ErrTruncated
	}
	b := buf[*cursor:]
	global = binary.LittleEndian.Uint64(b[0:8])
	slot := binary.LittleEndian.Uint32(b[8:12])
	attr := indexset.Attribute(b[12])
	flags := b[13]
	local = indexset.NewLocal(slot, attr, flags&flagPublic != 0)
	if flags&flagDeleted != 0 {
		local.SetState(indexset.Deleted)
	}
	*cursor += RecordSize
	return global, local, nil
}

// AppendPayloadHeader packs the exchange payload header: whether two
// distinct index sets follow, then the record count of each.
func AppendPayloadHeader(buf []byte, cursor *int, twoSets bool, sourceCount, destCount int) error {
	if *cursor+HeaderSize > len(buf) {
		return ErrBufferOverflow
	}
	b := buf[*cursor:]
	if twoSets {
		b[0] = 1
	} else {
		b[0] = 0
	}
	binary.LittleEndian.PutUint32(b[1:5], uint32(sourceCount))
	binary.LittleEndian.PutUint32(b[5:9], uint32(destCount))
	*cursor += HeaderSize
	return nil
}

// TakePayloadHeader unpacks the exchange payload header.
func TakePayloadHeader(buf []byte, cursor *int) (twoSets bool, sourceCount, destCount int, err error) {
	if *cursor+HeaderSize > len(buf) {
		return false, 0, 0, ErrTruncated
	}
	b := buf[*cursor:]
	twoSets = b[0] != 0
	sourceCount = int(binary.LittleEndian.Uint32(b[1:5]))
	destCount = int(binary.LittleEndian.Uint32(b[5:9]))
	*cursor += HeaderSize
	return twoSets, sourceCount, destCount, nil
}
