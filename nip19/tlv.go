package nip19

import (
	"bytes"
)

const (
	tlvDefault uint8 = 0
	tlvRelay   uint8 = 1
)

func readTLVEntry(data []byte) (typ uint8, value []byte) {
	if len(data) < 2 {
		return 0, nil
	}

	typ = data[0]
	length := int(data[1])
	if len(data) < 2+length {
		return 0, nil
	}
	value = data[2 : 2+length]

	return typ, value
}

func writeTLVEntry(buf *bytes.Buffer, typ uint8, value []byte) {
	length := len(value)
	buf.WriteByte(typ)
	buf.WriteByte(uint8(length))
	buf.Write(value)
}
