// internal/executor/builder_test.go
package executor

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-tradecore/internal/feed"
)

func TestBuildSwapInstructionVariantA(t *testing.T) {
	req, quote := testTrade()
	payer := solana.NewWallet().PublicKey()

	ix, err := buildSwapInstruction(req, quote, payer)
	require.NoError(t, err)
	assert.Equal(t, feed.VariantAProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 17)
	assert.Equal(t, variantASwapTag, data[0])
	assert.Equal(t, quote.AmountIn, binary.LittleEndian.Uint64(data[1:9]))
	assert.Equal(t, quote.MinOut, binary.LittleEndian.Uint64(data[9:17]))

	accounts := ix.Accounts()
	require.Len(t, accounts, 8)
	assert.Equal(t, req.PoolAddress, accounts[0].PublicKey)
	assert.True(t, accounts[1].IsSigner)
	assert.Equal(t, payer, accounts[1].PublicKey)
}

func TestBuildSwapInstructionVariantB(t *testing.T) {
	req, quote := testTrade()
	req.Variant = feed.VariantB
	quote.Snapshot.Variant = feed.VariantB
	payer := solana.NewWallet().PublicKey()

	ix, err := buildSwapInstruction(req, quote, payer)
	require.NoError(t, err)
	assert.Equal(t, feed.VariantBProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 24)
	assert.Equal(t, variantBBuyDiscrim, data[0:8])
	assert.Equal(t, quote.MinOut, binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, quote.AmountIn, binary.LittleEndian.Uint64(data[16:24]))
}

func TestBuildInstructionsIncludesComputeBudget(t *testing.T) {
	req, quote := testTrade()
	cfg := Config{ComputeUnitLimit: 150_000, ComputeUnitPrice: 1_000}
	cfg.applyDefaults()

	instructions, err := buildInstructions(req, quote, solana.NewWallet().PublicKey(), cfg)
	require.NoError(t, err)
	require.Len(t, instructions, 3)

	budget := solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	assert.Equal(t, budget, instructions[0].ProgramID())
	assert.Equal(t, budget, instructions[1].ProgramID())
	assert.Equal(t, feed.VariantAProgramID, instructions[2].ProgramID())
}

func TestBuildSwapInstructionUnknownVariant(t *testing.T) {
	req, quote := testTrade()
	req.Variant = feed.DexVariant(99)
	_, err := buildSwapInstruction(req, quote, solana.NewWallet().PublicKey())
	require.Error(t, err)
}
