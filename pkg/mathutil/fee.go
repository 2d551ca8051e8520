package mathutil

const (
	txOverheadSize = 10
	// size of an input spending a P2PKH output with a compressed key.
	p2pkhInputSize = 148
	outputSize     = 34
)

// TxFee estimates the fee of a legacy transaction with the given number of
// P2PKH inputs and outputs.
func TxFee(numInputs, numOutputs int, feePerByte uint64) uint64 {
	size := txOverheadSize + numInputs*p2pkhInputSize + numOutputs*outputSize
	return Mul(uint64(size), feePerByte).BigInt().Uint64()
}
