package acct

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
)

const (
	addressVersion byte = 58
	// decoded length of a Qortal address: version, hash160, checksum.
	addressLength = 25
)

// AddressFromPublicKey returns the Qortal address of the given public key.
func AddressFromPublicKey(publicKey []byte) string {
	return base58.CheckEncode(btcutil.Hash160(publicKey), addressVersion)
}

// IsValidAddress ...
func IsValidAddress(address string) bool {
	_, version, err := base58.CheckDecode(address)
	return err == nil && version == addressVersion
}

// addressToBytes returns the decoded address, right padded with zeros to
// size bytes.
func addressToBytes(address string, size int) ([]byte, error) {
	if !IsValidAddress(address) {
		return nil, ErrInvalidAddress
	}
	return padRight(base58.Decode(address), size), nil
}

// bytesToAddress returns the address encoded in the first bytes of b, or an
// empty string if b holds no address.
func bytesToAddress(b []byte) string {
	if len(b) < addressLength {
		return ""
	}
	raw := b[:addressLength]
	if bytes.Equal(raw, make([]byte, addressLength)) {
		return ""
	}
	return base58.Encode(raw)
}

func padRight(b []byte, size int) []byte {
	padded := make([]byte, size)
	copy(padded, b)
	return padded
}
