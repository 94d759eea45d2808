// internal/executor/builder.go
package executor

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/rovshanmuradov/solana-tradecore/internal/feed"
	"github.com/rovshanmuradov/solana-tradecore/internal/guard"
)

// Instruction discriminators per variant program.
var (
	variantASwapTag    = byte(9) // swap_base_in
	variantBBuyDiscrim = []byte{102, 6, 61, 18, 1, 218, 235, 234}
)

// buildInstructions assembles the full instruction list for one approved
// trade: compute budget first, then the variant's swap instruction
// carrying the approved amounts.
func buildInstructions(req guard.TradeRequest, quote guard.Quote, payer solana.PublicKey, cfg Config) ([]solana.Instruction, error) {
	instructions := []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(cfg.ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(cfg.ComputeUnitPrice).Build(),
	}

	swap, err := buildSwapInstruction(req, quote, payer)
	if err != nil {
		return nil, err
	}
	return append(instructions, swap), nil
}

func buildSwapInstruction(req guard.TradeRequest, quote guard.Quote, payer solana.PublicKey) (solana.Instruction, error) {
	baseMint := quote.Snapshot.BaseMint
	quoteMint := quote.Snapshot.QuoteMint

	userBaseATA, _, err := solana.FindAssociatedTokenAddress(payer, baseMint)
	if err != nil {
		return nil, fmt.Errorf("derive base token account: %w", err)
	}
	userQuoteATA, _, err := solana.FindAssociatedTokenAddress(payer, quoteMint)
	if err != nil {
		return nil, fmt.Errorf("derive quote token account: %w", err)
	}

	var data []byte
	switch req.Variant {
	case feed.VariantA:
		// tag + amount_in + min_amount_out, little endian
		data = make([]byte, 1+8+8)
		data[0] = variantASwapTag
		binary.LittleEndian.PutUint64(data[1:9], quote.AmountIn)
		binary.LittleEndian.PutUint64(data[9:17], quote.MinOut)
	case feed.VariantB:
		// discriminator + base_amount_out + max_quote_amount_in
		data = make([]byte, 8+8+8)
		copy(data[0:8], variantBBuyDiscrim)
		binary.LittleEndian.PutUint64(data[8:16], quote.MinOut)
		binary.LittleEndian.PutUint64(data[16:24], quote.AmountIn)
	default:
		return nil, fmt.Errorf("no swap instruction for variant %s", req.Variant)
	}

	programID := feed.VariantAProgramID
	if req.Variant == feed.VariantB {
		programID = feed.VariantBProgramID
	}

	accountMetas := []*solana.AccountMeta{
		solana.NewAccountMeta(req.PoolAddress, true, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(baseMint, false, false),
		solana.NewAccountMeta(quoteMint, false, false),
		solana.NewAccountMeta(userBaseATA, true, false),
		solana.NewAccountMeta(userQuoteATA, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}

	return solana.NewInstruction(programID, accountMetas, data), nil
}
