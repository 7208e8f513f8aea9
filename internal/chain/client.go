package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// TxError is an on-chain execution failure. Payload is the ledger's error
// object, unmodified.
type TxError struct {
	Signature solana.Signature
	Payload   string
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s failed on chain: %s", e.Signature, e.Payload)
}

// Client wraps the solana-go JSON-RPC client.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	pollEvery  time.Duration
}

func NewClient(rpcURL, commitment string) *Client {
	return &Client{
		rpc:        rpc.New(rpcURL),
		commitment: parseCommitment(commitment),
		pollEvery:  time.Second,
	}
}

func parseCommitment(s string) rpc.CommitmentType {
	switch strings.ToLower(s) {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// GetBalance returns the native balance of owner in lamports.
func (c *Client) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, owner, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("getBalance %s: %w", owner, err)
	}
	return out.Value, nil
}

// GetTokenBalance returns the balance of owner's associated token account for
// mint. found is false when the account does not exist yet.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, bool, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, false, fmt.Errorf("derive token account: %w", err)
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, c.commitment)
	if err != nil {
		if isMissingAccount(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("getTokenAccountBalance %s: %w", ata, err)
	}
	if out.Value == nil {
		return 0, false, nil
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse token amount %q: %w", out.Value.Amount, err)
	}
	return amount, true, nil
}

// AccountExists reports whether any account lives at addr.
func (c *Client) AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		if isMissingAccount(err) {
			return false, nil
		}
		return false, fmt.Errorf("getAccountInfo %s: %w", addr, err)
	}
	return true, nil
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SubmitTransaction sends a signed transaction and returns its signature.
func (c *Client) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}
	return sig, nil
}

// ConfirmTransaction polls the signature status until it reaches the client
// commitment, fails on chain, or ctx ends.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				payload, _ := json.Marshal(st.Err)
				return &TxError{Signature: sig, Payload: string(payload)}
			}
			if c.reached(string(st.ConfirmationStatus)) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("confirm %s: %w (last rpc error: %v)", sig, ctx.Err(), err)
			}
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) reached(status string) bool {
	switch status {
	case "finalized":
		return true
	case "confirmed":
		return c.commitment != rpc.CommitmentFinalized
	case "processed":
		return c.commitment == rpc.CommitmentProcessed
	}
	return false
}

// RecentPrioritizationFees returns per-slot prioritization fees paid by
// transactions that write-locked any of accounts.
func (c *Client) RecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]uint64, error) {
	out, err := c.rpc.GetRecentPrioritizationFees(ctx, solana.PublicKeySlice(accounts))
	if err != nil {
		return nil, fmt.Errorf("getRecentPrioritizationFees: %w", err)
	}
	fees := make([]uint64, 0, len(out))
	for _, f := range out {
		fees = append(fees, f.PrioritizationFee)
	}
	return fees, nil
}

func isMissingAccount(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	return strings.Contains(err.Error(), "could not find account")
}
