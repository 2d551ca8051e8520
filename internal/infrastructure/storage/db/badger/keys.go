package dbbadger

import (
	"bytes"
	"encoding/binary"
)

// Key layout of the raw (non-badgerhold) part of the store:
//
//	0x01 | address | 0x00 | height(4 BE)   -> encoded AT state row
//	0x02 | height(4 BE) | address          -> empty, height index
//	0x03 | address                         -> height(4 BE), latest state cache
//	0x04 | name                            -> height(4 BE), watermarks
//	0x05 | height(4 BE)                    -> encoded block reference
//
// ATs and trade bot entries are badgerhold records, whose keys start with
// "bh_" and therefore never collide with the prefixes above.
const (
	statePrefix       byte = 0x01
	heightIndexPrefix byte = 0x02
	latestPrefix      byte = 0x03
	metaPrefix        byte = 0x04
	blockPrefix       byte = 0x05

	addressSeparator byte = 0x00
)

var (
	trimHeightKey  = metaKey("atTrimHeight")
	pruneHeightKey = metaKey("atPruneHeight")
)

func stateKey(address string, height int) []byte {
	key := make([]byte, 0, len(address)+6)
	key = append(key, statePrefix)
	key = append(key, address...)
	key = append(key, addressSeparator)
	return append(key, encodeHeight(height)...)
}

func stateAddressPrefix(address string) []byte {
	key := make([]byte, 0, len(address)+2)
	key = append(key, statePrefix)
	key = append(key, address...)
	return append(key, addressSeparator)
}

func parseStateKey(key []byte) (string, int, bool) {
	if len(key) < 6 || key[0] != statePrefix {
		return "", 0, false
	}
	sep := bytes.IndexByte(key[1:], addressSeparator)
	if sep < 0 || len(key[1+sep+1:]) != 4 {
		return "", 0, false
	}
	return string(key[1 : 1+sep]), decodeHeight(key[1+sep+1:]), true
}

func heightIndexKey(height int, address string) []byte {
	key := make([]byte, 0, len(address)+5)
	key = append(key, heightIndexPrefix)
	key = append(key, encodeHeight(height)...)
	return append(key, address...)
}

func heightIndexPrefixFor(height int) []byte {
	return append([]byte{heightIndexPrefix}, encodeHeight(height)...)
}

func parseHeightIndexKey(key []byte) (int, string, bool) {
	if len(key) < 5 || key[0] != heightIndexPrefix {
		return 0, "", false
	}
	return decodeHeight(key[1:5]), string(key[5:]), true
}

func latestKey(address string) []byte {
	return append([]byte{latestPrefix}, address...)
}

func blockKey(height int) []byte {
	return append([]byte{blockPrefix}, encodeHeight(height)...)
}

func metaKey(name string) []byte {
	return append([]byte{metaPrefix}, name...)
}

func encodeHeight(height int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(height))
	return buf
}

func decodeHeight(buf []byte) int {
	return int(binary.BigEndian.Uint32(buf))
}
