// Package wire defines the byte-level formats of the index exchange: a
// fixed-layout record codec for published index entries, and a compact TLV
// (type-length-value) frame format used by stream transports to delimit
// messages.
//
// TLV frames come in three encodings picked by body size and liter case:
// tiny (1 byte header, body 0-9, type collapsed to '0'), short (2 byte
// header, lowercase liter + 1 length byte) and long (uppercase liter +
// 4-byte little-endian length).
package wire

import (
	"encoding/binary"
)

const CaseBit uint8 = 'a' - 'A'

// ProbeHeader inspects a frame header.
//
// Returns:
//   - lit: frame type ('A'-'Z', '0' for tiny, '-' for garbage, 0 if more
//     bytes are needed to decide)
//   - hdrlen: header length in bytes (1, 2 or 5)
//   - bodylen: body length in bytes
func ProbeHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	dlit := data[0]
	if dlit >= '0' && dlit <= '9' { // tiny
		lit = '0'
		bodylen = int(dlit - '0')
		hdrlen = 1
	} else if dlit >= 'a' && dlit <= 'z' { // short
		if len(data) < 2 {
			return
		}
		lit = dlit - CaseBit
		hdrlen = 2
		bodylen = int(data[1])
	} else if dlit >= 'A' && dlit <= 'Z' { // long
		if len(data) < 5 {
			return
		}
		bl := binary.LittleEndian.Uint32(data[1:5])
		if bl > 0x7fffffff {
			lit = '-'
			return
		}
		lit = dlit
		bodylen = int(bl)
		hdrlen = 5
	} else {
		lit = '-'
	}
	return
}

// AppendHeader appends a frame header, picking the shortest encoding the
// body length and liter case allow.
func AppendHeader(into []byte, lit byte, bodylen int) (ret []byte) {
	biglit := lit &^ CaseBit
	if biglit < 'A' || biglit > 'Z' {
		panic("wire: frame types are A..Z")
	}
	if bodylen < 10 && (lit&CaseBit) != 0 {
		ret = append(into, byte('0'+bodylen))
	} else if bodylen > 0xff {
		if bodylen > 0x7fffffff {
			panic("wire: oversized frame")
		}
		ret = append(into, biglit)
		ret = binary.LittleEndian.AppendUint32(ret, uint32(bodylen))
	} else {
		ret = append(into, lit|CaseBit, byte(bodylen))
	}
	return ret
}

func totalLen(body [][]byte) (sum int) {
	for _, b := range body {
		sum += len(b)
	}
	return
}

// Append appends a complete frame to the buffer.
func Append(into []byte, lit byte, body ...[]byte) (res []byte) {
	res = AppendHeader(into, lit, totalLen(body))
	for _, b := range body {
		res = append(res, b...)
	}
	return res
}

// Frame builds a complete frame in a fresh buffer.
func Frame(lit byte, body ...[]byte) []byte {
	ret := make([]byte, 0, totalLen(body)+5)
	return Append(ret, lit, body...)
}

// Take extracts the body of a frame of the given type.
//
// Returns:
//   - body: frame body, nil on error
//   - rest: remaining data; the original data if the frame is incomplete,
//     nil if the type does not match
func Take(lit byte, data []byte) (body, rest []byte) {
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit == 0 || hdrlen+bodylen > len(data) {
		return nil, data // incomplete
	}
	if flit != lit && flit != '0' {
		return nil, nil // wrong type
	}
	body = data[hdrlen : hdrlen+bodylen]
	rest = data[hdrlen+bodylen:]
	return
}

// TakeAny extracts whatever frame comes first.
func TakeAny(data []byte) (lit byte, body, rest []byte) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	lit = data[0] & ^CaseBit
	body, rest = Take(lit, data)
	return
}
