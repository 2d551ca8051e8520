package acct

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

const secretLabel = "secretA"

// TradeKeys are the keys derived from a trade private key: one signing on
// the Qortal chain, one on the foreign chain.
type TradeKeys struct {
	NativePrivateKey     ed25519.PrivateKey
	NativePublicKey      ed25519.PublicKey
	NativePublicKeyHash  []byte
	NativeAddress        string
	ForeignPrivateKey    *btcec.PrivateKey
	ForeignPublicKey     []byte
	ForeignPublicKeyHash []byte
}

// DeriveTradeKeys ...
func DeriveTradeKeys(tradePrivateKey []byte) (*TradeKeys, error) {
	if len(tradePrivateKey) != ed25519.SeedSize {
		return nil, ErrInvalidSecretLength
	}
	nativeKey := ed25519.NewKeyFromSeed(tradePrivateKey)
	nativePubkey := nativeKey.Public().(ed25519.PublicKey)
	foreignKey, foreignPubkey := btcec.PrivKeyFromBytes(tradePrivateKey)
	foreignPubkeyBytes := foreignPubkey.SerializeCompressed()

	return &TradeKeys{
		NativePrivateKey:     nativeKey,
		NativePublicKey:      nativePubkey,
		NativePublicKeyHash:  btcutil.Hash160(nativePubkey),
		NativeAddress:        AddressFromPublicKey(nativePubkey),
		ForeignPrivateKey:    foreignKey,
		ForeignPublicKey:     foreignPubkeyBytes,
		ForeignPublicKeyHash: btcutil.Hash160(foreignPubkeyBytes),
	}, nil
}

// SecretA returns the secret of a responder trade, derived from its private
// key so that it never needs to be stored.
func SecretA(tradePrivateKey []byte) []byte {
	mac := hmac.New(sha256.New, tradePrivateKey)
	mac.Write([]byte(secretLabel))
	return mac.Sum(nil)
}

// HashOfSecret ...
func HashOfSecret(secret []byte) []byte {
	return btcutil.Hash160(secret)
}
