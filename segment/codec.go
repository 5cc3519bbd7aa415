package segment

import "encoding/binary"

// indexEntrySize is the fixed width of one index record: relative_offset (u32) |
// position_in_log (u32) | message_size (u32), packed little-endian with no
// padding, spec.md §6.
const indexEntrySize = 12

// timeIndexEntrySize is the fixed width of one time-index record:
// relative_offset (u32) | timestamp_ns (u64), spec.md §6.
const timeIndexEntrySize = 12

// messageHeaderSize is the length prefix on every on-disk message record.
const messageHeaderSize = 4

type indexEntry struct {
	relativeOffset uint32
	position       uint32
	size           uint32
}

func encodeIndexEntry(e indexEntry) []byte {
	buf := make([]byte, indexEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.relativeOffset)
	binary.LittleEndian.PutUint32(buf[4:8], e.position)
	binary.LittleEndian.PutUint32(buf[8:12], e.size)
	return buf
}

func decodeIndexEntry(buf []byte) indexEntry {
	return indexEntry{
		relativeOffset: binary.LittleEndian.Uint32(buf[0:4]),
		position:       binary.LittleEndian.Uint32(buf[4:8]),
		size:           binary.LittleEndian.Uint32(buf[8:12]),
	}
}

type timeIndexEntry struct {
	relativeOffset uint32
	timestampNs    uint64
}

func encodeTimeIndexEntry(e timeIndexEntry) []byte {
	buf := make([]byte, timeIndexEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.relativeOffset)
	binary.LittleEndian.PutUint64(buf[4:12], e.timestampNs)
	return buf
}

func decodeTimeIndexEntry(buf []byte) timeIndexEntry {
	return timeIndexEntry{
		relativeOffset: binary.LittleEndian.Uint32(buf[0:4]),
		timestampNs:    binary.LittleEndian.Uint64(buf[4:12]),
	}
}

// encodeMessage produces the length-prefixed on-disk record (size: u32 LE,
// payload: bytes), spec.md §6. Payload internals are opaque to this engine.
func encodeMessage(payload []byte) []byte {
	buf := make([]byte, messageHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

// decodeMessage reads one length-prefixed record starting at buf[0] and
// returns the payload and the number of bytes consumed.
func decodeMessage(buf []byte) (payload []byte, consumed int, ok bool) {
	if len(buf) < messageHeaderSize {
		return nil, 0, false
	}
	size := binary.LittleEndian.Uint32(buf[0:4])
	total := messageHeaderSize + int(size)
	if len(buf) < total {
		return nil, 0, false
	}
	return buf[messageHeaderSize:total], total, true
}
