// Package acct implements the Automated Cross-Chain Trading ATs: how their
// data segment is laid out, which messages drive them and the HTLC held on
// the foreign chain.
package acct

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/qortal/qortd/internal/core/domain"
)

var (
	// ErrUnexpectedLayout is returned when an AT data segment can not be
	// parsed by the ACCT it is supposed to run.
	ErrUnexpectedLayout = errors.New("unexpected AT data segment layout")
	// ErrUnknownCodeHash is returned when no registered ACCT runs the given
	// code.
	ErrUnknownCodeHash = errors.New("no ACCT registered for code hash")
	// ErrUnknownACCT ...
	ErrUnknownACCT = errors.New("unknown ACCT")
	// ErrTrimmedState is returned when the state to parse has no payload.
	ErrTrimmedState = errors.New("AT state has been trimmed")
	// ErrInvalidAddress ...
	ErrInvalidAddress = errors.New("invalid Qortal address")
	// ErrInvalidHashLength ...
	ErrInvalidHashLength = errors.New("hash must be 20 bytes")
	// ErrInvalidSecretLength ...
	ErrInvalidSecretLength = errors.New("secret must be 32 bytes")
	// ErrInvalidMessage ...
	ErrInvalidMessage = errors.New("invalid message")
)

// ACCT is a cross-chain trading AT template.
type ACCT interface {
	Name() string
	CodeBytes() []byte
	CodeHash() []byte
	ModeByteOffset() int
	ForeignBlockchain() string

	// PopulateTradeDataFromAT parses the latest state of the given AT.
	PopulateTradeDataFromAT(
		ctx context.Context, repo domain.ATRepository, at domain.ATData,
	) (*domain.CrossChainTradeData, error)
	// PopulateTradeDataFromState parses the given state of an AT.
	PopulateTradeDataFromState(
		ctx context.Context, repo domain.ATRepository, state domain.ATStateData,
	) (*domain.CrossChainTradeData, error)

	BuildInitialData(req OfferParams) ([]byte, error)
	BuildCancelMessage(creatorAddress string) ([]byte, error)
	BuildTradeMessage(req TradeParams) ([]byte, error)
	BuildRedeemMessage(secret []byte, receivingAddress string) ([]byte, error)

	// FindSecretA returns the secret revealed to the AT, nil if the AT has
	// not been redeemed with the secret matching the trade's hash lock.
	FindSecretA(
		ctx context.Context, repo domain.ATRepository,
		data domain.CrossChainTradeData,
	) ([]byte, error)
}

// Registry indexes the ACCTs known to the node by code hash and by name.
type Registry struct {
	byCodeHash map[string]ACCT
	byName     map[string]ACCT
}

// NewRegistry ...
func NewRegistry(accts ...ACCT) (*Registry, error) {
	r := &Registry{
		byCodeHash: make(map[string]ACCT),
		byName:     make(map[string]ACCT),
	}
	for _, a := range accts {
		key := hex.EncodeToString(a.CodeHash())
		if _, ok := r.byCodeHash[key]; ok {
			return nil, fmt.Errorf("duplicated code hash %s for %s", key, a.Name())
		}
		if _, ok := r.byName[a.Name()]; ok {
			return nil, fmt.Errorf("duplicated ACCT name %s", a.Name())
		}
		r.byCodeHash[key] = a
		r.byName[a.Name()] = a
	}
	return r, nil
}

// ByCodeHash ...
func (r *Registry) ByCodeHash(codeHash []byte) (ACCT, error) {
	a, ok := r.byCodeHash[hex.EncodeToString(codeHash)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownCodeHash, codeHash)
	}
	return a, nil
}

// ByName ...
func (r *Registry) ByName(name string) (ACCT, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownACCT, name)
	}
	return a, nil
}

// All returns the registered ACCTs sorted by name.
func (r *Registry) All() []ACCT {
	all := make([]ACCT, 0, len(r.byName))
	for _, a := range r.byName {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Name() < all[j].Name()
	})
	return all
}

// CodeHashes ...
func (r *Registry) CodeHashes() [][]byte {
	all := r.All()
	hashes := make([][]byte, 0, len(all))
	for _, a := range all {
		hashes = append(hashes, a.CodeHash())
	}
	return hashes
}
