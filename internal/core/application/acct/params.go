package acct

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"

	BlockchainBitcoin  = "BITCOIN"
	BlockchainLitecoin = "LITECOIN"
	BlockchainDogecoin = "DOGECOIN"

	BitcoinACCTv3  = "BitcoinACCTv3"
	LitecoinACCTv3 = "LitecoinACCTv3"
	DogecoinACCTv3 = "DogecoinACCTv3"
)

type addressIDs struct {
	pubKeyHash byte
	scriptHash byte
	privateKey byte
	bech32HRP  string
}

var (
	litecoinAddressIDs = map[string]addressIDs{
		NetworkMainnet: {0x30, 0x32, 0xb0, "ltc"},
		NetworkTestnet: {0x6f, 0x3a, 0xef, "tltc"},
		NetworkRegtest: {0x6f, 0x3a, 0xef, "rltc"},
	}
	dogecoinAddressIDs = map[string]addressIDs{
		NetworkMainnet: {0x1e, 0x16, 0x9e, ""},
		NetworkTestnet: {0x71, 0xc4, 0xf1, ""},
		NetworkRegtest: {0x6f, 0xc4, 0xef, ""},
	}
)

// BitcoinParams returns the bitcoin chain params for the given network.
func BitcoinParams(network string) (*chaincfg.Params, error) {
	switch network {
	case NetworkMainnet:
		return &chaincfg.MainNetParams, nil
	case NetworkTestnet:
		return &chaincfg.TestNet3Params, nil
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %s", network)
	}
}

// LitecoinParams returns the litecoin chain params for the given network.
func LitecoinParams(network string) (*chaincfg.Params, error) {
	return derivedParams("litecoin", network, litecoinAddressIDs)
}

// DogecoinParams returns the dogecoin chain params for the given network.
func DogecoinParams(network string) (*chaincfg.Params, error) {
	return derivedParams("dogecoin", network, dogecoinAddressIDs)
}

// derivedParams returns a copy of the bitcoin params of the given network,
// with the address prefixes of another chain. Only addresses and keys are
// derived from them.
func derivedParams(
	chain, network string, ids map[string]addressIDs,
) (*chaincfg.Params, error) {
	base, err := BitcoinParams(network)
	if err != nil {
		return nil, err
	}
	id := ids[network]
	params := *base
	params.Name = chain + "-" + network
	params.PubKeyHashAddrID = id.pubKeyHash
	params.ScriptHashAddrID = id.scriptHash
	params.PrivateKeyID = id.privateKey
	params.Bech32HRPSegwit = id.bech32HRP
	return &params, nil
}

// DefaultRegistry returns the registry of the ACCTs supported on the given
// network.
func DefaultRegistry(network string) (*Registry, error) {
	btc, err := BitcoinParams(network)
	if err != nil {
		return nil, err
	}
	ltc, err := LitecoinParams(network)
	if err != nil {
		return nil, err
	}
	doge, err := DogecoinParams(network)
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		NewBitcoiny(BitcoinACCTv3, BlockchainBitcoin, btc),
		NewBitcoiny(LitecoinACCTv3, BlockchainLitecoin, ltc),
		NewBitcoiny(DogecoinACCTv3, BlockchainDogecoin, doge),
	)
}

// ParamsForBlockchain returns the chain params of the given foreign
// blockchain on the given network.
func ParamsForBlockchain(blockchain, network string) (*chaincfg.Params, error) {
	switch blockchain {
	case BlockchainBitcoin:
		return BitcoinParams(network)
	case BlockchainLitecoin:
		return LitecoinParams(network)
	case BlockchainDogecoin:
		return DogecoinParams(network)
	default:
		return nil, fmt.Errorf("unknown foreign blockchain %s", blockchain)
	}
}
