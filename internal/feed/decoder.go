// internal/feed/decoder.go
package feed

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DexVariant identifies which AMM program owns a pool account and
// therefore which fixed layout its data follows. The set is closed: an
// account owned by any other program is not decodable here.
type DexVariant uint8

const (
	VariantA DexVariant = iota + 1 // Raydium V4 style state
	VariantB                      // PumpSwap style state
)

func (v DexVariant) String() string {
	switch v {
	case VariantA:
		return "A"
	case VariantB:
		return "B"
	default:
		return "unknown"
	}
}

var (
	VariantAProgramID = solana.MPK("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	VariantBProgramID = solana.MPK("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA")
)

// variantByProgram is the dispatch table keyed by owning program.
var variantByProgram = map[solana.PublicKey]DexVariant{
	VariantAProgramID: VariantA,
	VariantBProgramID: VariantB,
}

// VariantForProgram resolves the owning program of an account to its
// layout variant.
func VariantForProgram(program solana.PublicKey) (DexVariant, bool) {
	v, ok := variantByProgram[program]
	return v, ok
}

// Layout A: 8-byte discriminator, version, status, base mint, quote mint,
// base reserve, quote reserve (little endian).
const (
	layoutASize          = 90
	layoutAVersionOffset = 8
	layoutAStatusOffset  = 9
	layoutABaseMintOff   = 10
	layoutAQuoteMintOff  = 42
	layoutABaseResOff    = 74
	layoutAQuoteResOff   = 82

	layoutAVersion = 4
)

// Layout B: tag byte, pool bump, quote mint, base mint, quote reserve,
// base reserve. Mints and reserves arrive quote-first; price convention is
// still quote over base.
const (
	layoutBSize         = 82
	layoutBBumpOffset   = 1
	layoutBQuoteMintOff = 2
	layoutBBaseMintOff  = 34
	layoutBQuoteResOff  = 66
	layoutBBaseResOff   = 74

	layoutBTag = 1
)

// DecodeError describes a payload that could not be decoded. The message
// is dropped; the stream continues.
type DecodeError struct {
	Variant DexVariant
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("layout %s decode failed: %s", e.Variant, e.Reason)
}

// DecodePoolAccount decodes raw account bytes into a PoolSnapshot using
// the fixed layout of the given variant. Rejects wrong lengths and zero
// reserves; a rejected payload is never published as a price.
func DecodePoolAccount(variant DexVariant, pool solana.PublicKey, data []byte, slot uint64) (*PoolSnapshot, error) {
	switch variant {
	case VariantA:
		return decodeLayoutA(pool, data, slot)
	case VariantB:
		return decodeLayoutB(pool, data, slot)
	default:
		return nil, &DecodeError{Variant: variant, Reason: "unknown variant"}
	}
}

func decodeLayoutA(pool solana.PublicKey, data []byte, slot uint64) (*PoolSnapshot, error) {
	if len(data) != layoutASize {
		return nil, &DecodeError{
			Variant: VariantA,
			Reason:  fmt.Sprintf("unexpected length: got %d, want %d", len(data), layoutASize),
		}
	}
	if data[layoutAVersionOffset] != layoutAVersion {
		return nil, &DecodeError{
			Variant: VariantA,
			Reason:  fmt.Sprintf("unsupported state version %d", data[layoutAVersionOffset]),
		}
	}

	snapshot := &PoolSnapshot{
		PoolAddress:  pool,
		Variant:      VariantA,
		BaseMint:     solana.PublicKeyFromBytes(data[layoutABaseMintOff : layoutABaseMintOff+32]),
		QuoteMint:    solana.PublicKeyFromBytes(data[layoutAQuoteMintOff : layoutAQuoteMintOff+32]),
		BaseReserve:  binary.LittleEndian.Uint64(data[layoutABaseResOff:]),
		QuoteReserve: binary.LittleEndian.Uint64(data[layoutAQuoteResOff:]),
		LastSlot:     slot,
	}
	if snapshot.BaseReserve == 0 || snapshot.QuoteReserve == 0 {
		return nil, &DecodeError{Variant: VariantA, Reason: "zero reserve"}
	}
	return snapshot, nil
}

func decodeLayoutB(pool solana.PublicKey, data []byte, slot uint64) (*PoolSnapshot, error) {
	if len(data) != layoutBSize {
		return nil, &DecodeError{
			Variant: VariantB,
			Reason:  fmt.Sprintf("unexpected length: got %d, want %d", len(data), layoutBSize),
		}
	}
	if data[0] != layoutBTag {
		return nil, &DecodeError{
			Variant: VariantB,
			Reason:  fmt.Sprintf("unexpected account tag %d", data[0]),
		}
	}

	snapshot := &PoolSnapshot{
		PoolAddress:  pool,
		Variant:      VariantB,
		QuoteMint:    solana.PublicKeyFromBytes(data[layoutBQuoteMintOff : layoutBQuoteMintOff+32]),
		BaseMint:     solana.PublicKeyFromBytes(data[layoutBBaseMintOff : layoutBBaseMintOff+32]),
		QuoteReserve: binary.LittleEndian.Uint64(data[layoutBQuoteResOff:]),
		BaseReserve:  binary.LittleEndian.Uint64(data[layoutBBaseResOff:]),
		LastSlot:     slot,
	}
	if snapshot.BaseReserve == 0 || snapshot.QuoteReserve == 0 {
		return nil, &DecodeError{Variant: VariantB, Reason: "zero reserve"}
	}
	return snapshot, nil
}
