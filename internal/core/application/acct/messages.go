package acct

import (
	"encoding/binary"
	"fmt"
)

const offerMessageLength = 2*hashFieldSize + 8

// OfferMessage is sent by a responder to the creator's trade address to take
// an offer, once its side of the swap is funded.
type OfferMessage struct {
	PartnerForeignPKH []byte
	HashOfSecret      []byte
	LockTimeA         uint64
}

// BuildOfferMessage ...
func BuildOfferMessage(msg OfferMessage) ([]byte, error) {
	if len(msg.PartnerForeignPKH) != hashSize || len(msg.HashOfSecret) != hashSize {
		return nil, ErrInvalidHashLength
	}
	buf := make([]byte, 0, offerMessageLength)
	buf = append(buf, padRight(msg.PartnerForeignPKH, hashFieldSize)...)
	buf = append(buf, padRight(msg.HashOfSecret, hashFieldSize)...)
	return binary.BigEndian.AppendUint64(buf, msg.LockTimeA), nil
}

// ParseOfferMessage ...
func ParseOfferMessage(data []byte) (*OfferMessage, error) {
	if len(data) != offerMessageLength {
		return nil, fmt.Errorf(
			"%w: offer message must be %d bytes, got %d",
			ErrInvalidMessage, offerMessageLength, len(data),
		)
	}
	msg := &OfferMessage{
		PartnerForeignPKH: copyBytes(data[:hashSize]),
		HashOfSecret:      copyBytes(data[hashFieldSize : hashFieldSize+hashSize]),
		LockTimeA:         binary.BigEndian.Uint64(data[2*hashFieldSize:]),
	}
	if msg.LockTimeA == 0 {
		return nil, fmt.Errorf("%w: missing lockTimeA", ErrInvalidMessage)
	}
	return msg, nil
}

// CalcRefundTimeout returns the AT refund timeout, in minutes, for a trade
// whose foreign leg can be refunded at lockTimeA (unix seconds): half of the
// remaining time, at least one minute.
func CalcRefundTimeout(nowMs int64, lockTimeA uint64) uint64 {
	remaining := int64(lockTimeA) - nowMs/1000
	if remaining <= 0 {
		return 0
	}
	minutes := uint64(remaining/60) / 2
	if minutes == 0 {
		return 1
	}
	return minutes
}
