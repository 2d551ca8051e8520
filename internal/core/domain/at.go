package domain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// DataValueSize is the width in bytes of a single AT data segment value.
const DataValueSize = 8

// ATData is the static record of a deployed AT.
type ATData struct {
	Address          string
	CreatorPublicKey []byte
	CodeBytes        []byte
	CodeHash         []byte
	CreationHeight   int
	Creation         int64
	IsExecutable     bool
	IsSleeping       bool
	SleepUntilHeight int
	IsFinished       bool
	HadFatalError    bool
	IsFrozen         bool
}

// CodeHashHex returns the code hash in hex format.
func (a ATData) CodeHashHex() string {
	return hex.EncodeToString(a.CodeHash)
}

// HasCodeHash returns whether the AT runs the code identified by the given hash.
func (a ATData) HasCodeHash(codeHash []byte) bool {
	return bytes.Equal(a.CodeHash, codeHash)
}

// ATStateData is the snapshot of an AT after its execution at Height.
// A nil StateData means the row has been trimmed.
type ATStateData struct {
	ATAddress  string
	Height     int
	Creation   int64
	StateHash  []byte
	StateData  []byte
	Fees       uint64
	IsInitial  bool
	IsFinished bool
}

// Validate checks the fields required to persist a state row.
func (s ATStateData) Validate() error {
	if s.ATAddress == "" {
		return fmt.Errorf("%w: %s", ErrInvalidATState, ErrMissingAddress)
	}
	if s.Height <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidATState, ErrMissingHeight)
	}
	if s.Creation <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidATState, ErrMissingCreation)
	}
	if len(s.StateHash) <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidATState, ErrMissingStateHash)
	}
	return nil
}

// IsTrimmed returns whether the payload of the state has been dropped.
func (s ATStateData) IsTrimmed() bool {
	return s.StateData == nil
}

// Trimmed returns a copy of the state without payload.
func (s ATStateData) Trimmed() ATStateData {
	s.StateData = nil
	return s
}

// DataValue returns the 8-byte value stored at the given byte offset of the
// data segment.
func (s ATStateData) DataValue(offset int) ([]byte, bool) {
	if offset < 0 || s.StateData == nil || offset+DataValueSize > len(s.StateData) {
		return nil, false
	}
	return s.StateData[offset : offset+DataValueSize], true
}

// DataValueHex renders the value at offset as a 16-char lowercase hex string,
// that is the canonical form used to compare data segment values as unsigned
// integers.
func (s ATStateData) DataValueHex(offset int) (string, bool) {
	v, ok := s.DataValue(offset)
	if !ok {
		return "", false
	}
	return hex.EncodeToString(v), true
}

// ExpectedValueHex returns the canonical hex form of an unsigned data value.
func ExpectedValueHex(value uint64) string {
	return fmt.Sprintf("%016x", value)
}

// DataValueUint64 decodes the big-endian value stored at offset.
func (s ATStateData) DataValueUint64(offset int) (uint64, bool) {
	v, ok := s.DataValue(offset)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}
