// Package solana implements chain.RPC on top of a Solana JSON-RPC node.
package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/chain"
)

const defaultCommitment = rpc.CommitmentConfirmed

// ErrInvalidAddress is returned for strings that are not base58 public keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// Client adapts the solana-go RPC client to chain.RPC.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

// New connects to endpoint. An empty commitment means "confirmed".
func New(endpoint, commitment string, logger *zap.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("rpc endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := rpc.CommitmentType(strings.TrimSpace(commitment))
	switch c {
	case "":
		c = defaultCommitment
	case rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return nil, fmt.Errorf("unsupported commitment %q (use confirmed or finalized)", commitment)
	}

	return &Client{
		rpc:        rpc.New(endpoint),
		commitment: c,
		logger:     logger,
	}, nil
}

// Close releases the underlying HTTP transport.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) ListSignatures(ctx context.Context, account string, limit int) ([]chain.SignatureInfo, error) {
	key, err := ParseAddress(account)
	if err != nil {
		return nil, err
	}

	out, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, key, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	infos := make([]chain.SignatureInfo, 0, len(out))
	for _, sig := range out {
		if sig == nil {
			continue
		}

		info := chain.SignatureInfo{
			Signature: sig.Signature.String(),
			Failed:    sig.Err != nil,
		}
		if sig.BlockTime != nil {
			t := sig.BlockTime.Time()
			info.BlockTime = &t
		}
		infos = append(infos, info)
	}

	return infos, nil
}

func (c *Client) GetTransaction(ctx context.Context, signature string) ([]chain.Transfer, error) {
	sig, err := sol.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("parse signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       sol.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, chain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	if out == nil || out.Transaction == nil {
		return nil, chain.ErrNotFound
	}
	if out.Meta != nil && out.Meta.Err != nil {
		return nil, nil
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", signature, err)
	}

	return c.transfers(tx, out.Meta), nil
}

// transfers decodes every SPL token transfer of tx, top-level and inner
// (program-invoked) alike. Account indexes resolve against the static keys
// followed by the addresses loaded from lookup tables. Instructions that
// cannot be resolved or decoded are skipped.
func (c *Client) transfers(tx *sol.Transaction, meta *rpc.TransactionMeta) []chain.Transfer {
	keys := append(sol.PublicKeySlice{}, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	var out []chain.Transfer
	for i, inst := range tx.Message.Instructions {
		if tr, ok := c.decode(keys, inst.ProgramIDIndex, inst.Accounts, inst.Data, zap.Int("instruction", i)); ok {
			out = append(out, tr)
		}
	}

	if meta == nil {
		return out
	}
	for _, inner := range meta.InnerInstructions {
		for _, inst := range inner.Instructions {
			if tr, ok := c.decode(keys, inst.ProgramIDIndex, inst.Accounts, inst.Data, zap.Uint16("parent_instruction", inner.Index)); ok {
				out = append(out, tr)
			}
		}
	}

	return out
}

func (c *Client) decode(keys sol.PublicKeySlice, program uint16, indexes []uint16, data []byte, where zap.Field) (chain.Transfer, bool) {
	if int(program) >= len(keys) || !keys[program].Equals(sol.TokenProgramID) {
		return chain.Transfer{}, false
	}

	accounts := make([]*sol.AccountMeta, 0, len(indexes))
	for _, idx := range indexes {
		if int(idx) >= len(keys) {
			c.logger.Debug("instruction account out of range", where, zap.Uint16("index", idx), zap.Int("keys", len(keys)))
			return chain.Transfer{}, false
		}
		accounts = append(accounts, sol.Meta(keys[idx]))
	}

	decoded, err := token.DecodeInstruction(accounts, data)
	if err != nil {
		c.logger.Debug("decoding token instruction", where, zap.Error(err))
		return chain.Transfer{}, false
	}

	return transferFrom(decoded)
}

func transferFrom(inst *token.Instruction) (chain.Transfer, bool) {
	switch impl := inst.Impl.(type) {
	case *token.Transfer:
		if impl.Amount == nil {
			return chain.Transfer{}, false
		}
		return chain.Transfer{
			Source:      impl.GetSourceAccount().PublicKey.String(),
			Destination: impl.GetDestinationAccount().PublicKey.String(),
			Authority:   impl.GetOwnerAccount().PublicKey.String(),
			Amount:      *impl.Amount,
		}, true
	case *token.TransferChecked:
		if impl.Amount == nil {
			return chain.Transfer{}, false
		}
		return chain.Transfer{
			Source:      impl.GetSourceAccount().PublicKey.String(),
			Destination: impl.GetDestinationAccount().PublicKey.String(),
			Authority:   impl.GetOwnerAccount().PublicKey.String(),
			Amount:      *impl.Amount,
		}, true
	default:
		return chain.Transfer{}, false
	}
}
