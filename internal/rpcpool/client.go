// internal/rpcpool/client.go
package rpcpool

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Typed helpers over Execute. Each one fans out across endpoints on
// transport failure; responses come back from whichever endpoint answered.

// GetAccountInfo fetches an account with base64 encoding at confirmed
// commitment.
func (p *Pool) GetAccountInfo(ctx context.Context, network Network, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	var result *rpc.GetAccountInfoResult
	err := p.Execute(ctx, network, func(ctx context.Context, ep *Endpoint) error {
		var err error
		result, err = ep.RPC().GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	return result, err
}

// GetBalance returns the lamport balance of an account.
func (p *Pool) GetBalance(ctx context.Context, network Network, pubkey solana.PublicKey) (uint64, error) {
	var result *rpc.GetBalanceResult
	err := p.Execute(ctx, network, func(ctx context.Context, ep *Endpoint) error {
		var err error
		result, err = ep.RPC().GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

// GetLatestBlockhash returns a finalized blockhash for transaction
// assembly.
func (p *Pool) GetLatestBlockhash(ctx context.Context, network Network) (solana.Hash, error) {
	var result *rpc.GetLatestBlockhashResult
	err := p.Execute(ctx, network, func(ctx context.Context, ep *Endpoint) error {
		var err error
		result, err = ep.RPC().GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		return err
	})
	if err != nil {
		return solana.Hash{}, err
	}
	return result.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction.
func (p *Pool) SendTransaction(ctx context.Context, network Network, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	var sig solana.Signature
	err := p.Execute(ctx, network, func(ctx context.Context, ep *Endpoint) error {
		var err error
		sig, err = ep.RPC().SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       skipPreflight,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	return sig, err
}

// GetSignatureStatuses returns the confirmation status of the given
// signatures.
func (p *Pool) GetSignatureStatuses(ctx context.Context, network Network, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	var result *rpc.GetSignatureStatusesResult
	err := p.Execute(ctx, network, func(ctx context.Context, ep *Endpoint) error {
		var err error
		result, err = ep.RPC().GetSignatureStatuses(ctx, false, sigs...)
		return err
	})
	return result, err
}

// GetTransaction fetches a confirmed transaction with its meta for fee and
// compute-unit accounting.
func (p *Pool) GetTransaction(ctx context.Context, network Network, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	var result *rpc.GetTransactionResult
	err := p.Execute(ctx, network, func(ctx context.Context, ep *Endpoint) error {
		var err error
		result, err = ep.RPC().GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	return result, err
}
