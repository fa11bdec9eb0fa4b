package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/sirupsen/logrus"

	"farm-log-indexer-go/internal/farm"
)

// JSON-RPC codes for slots that hold no block
const (
	codeSlotSkipped          = -32007
	codeLongTermSlotSkipped  = -32009
	signaturesForAddressPage = 1000
)

// ErrUndecodable marks a Farm program transaction the RPC returned in a form that cannot be decoded
var ErrUndecodable = errors.New("undecodable farm transaction")

// RPC is the subset of the Solana RPC the sources need
type RPC interface {
	GetBlock(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error)
	GetTransaction(ctx context.Context, signature string) (*rpc.GetTransactionResult, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int, before string) ([]string, error)
}

// BlockSource turns RPC responses into farm batches
type BlockSource struct {
	rpc       RPC
	programID string
	logger    *logrus.Logger
}

// NewBlockSource creates a source over an RPC client. programID decides which
// undecodable block transactions can be dropped.
func NewBlockSource(client RPC, programID string, logger *logrus.Logger) *BlockSource {
	return &BlockSource{rpc: client, programID: programID, logger: logger}
}

// FetchSlot returns every transaction of a block in block order. Skipped slots yield an empty batch.
// A transaction that cannot be decoded is dropped when its logs never mention the program;
// otherwise the slot fails with ErrUndecodable.
func (s *BlockSource) FetchSlot(ctx context.Context, slot uint64) (farm.Transactions, error) {
	block, err := s.rpc.GetBlock(ctx, slot)
	if err != nil {
		if IsSkippedSlot(err) {
			s.logger.WithField("slot", slot).Debug("Slot skipped")
			return farm.Transactions{}, nil
		}
		return farm.Transactions{}, fmt.Errorf("fetch slot %d: %w", slot, err)
	}
	if block == nil {
		return farm.Transactions{}, nil
	}

	batch := farm.Transactions{Transactions: make([]*farm.ConfirmedTransaction, 0, len(block.Transactions))}
	for i, twm := range block.Transactions {
		tx, err := twm.GetTransaction()
		if err != nil {
			if s.mentionsProgram(twm.Meta) {
				return farm.Transactions{}, fmt.Errorf("slot %d transaction %d: %w: %v", slot, i, ErrUndecodable, err)
			}
			s.logger.WithError(err).WithFields(logrus.Fields{
				"slot":  slot,
				"index": i,
			}).Warn("Dropped undecodable block transaction")
			continue
		}
		batch.Transactions = append(batch.Transactions, Confirmed(tx, twm.Meta))
	}

	return batch, nil
}

// mentionsProgram reports whether the program was invoked, judging by the logs.
// Without a program id or logs every transaction counts as mentioning it.
func (s *BlockSource) mentionsProgram(meta *rpc.TransactionMeta) bool {
	if s.programID == "" || meta == nil {
		return true
	}
	prefix := "Program " + s.programID + " "
	for _, line := range meta.LogMessages {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// FetchSignatures returns the named transactions in the given order
func (s *BlockSource) FetchSignatures(ctx context.Context, signatures []string) (farm.Transactions, error) {
	batch := farm.Transactions{Transactions: make([]*farm.ConfirmedTransaction, 0, len(signatures))}

	for _, sig := range signatures {
		result, err := s.rpc.GetTransaction(ctx, sig)
		if err != nil {
			return farm.Transactions{}, fmt.Errorf("fetch transaction %s: %w", sig, err)
		}
		if result == nil || result.Transaction == nil {
			return farm.Transactions{}, fmt.Errorf("transaction %s not found", sig)
		}

		tx, err := result.Transaction.GetTransaction()
		if err != nil {
			return farm.Transactions{}, fmt.Errorf("decode transaction %s: %w", sig, err)
		}
		batch.Transactions = append(batch.Transactions, Confirmed(tx, result.Meta))
	}

	return batch, nil
}

// RecentSignatures pages back through the program's history and returns up to limit
// signatures, oldest first
func (s *BlockSource) RecentSignatures(ctx context.Context, programID string, limit int) ([]string, error) {
	var (
		newestFirst []string
		before      string
	)

	for len(newestFirst) < limit {
		page := min(limit-len(newestFirst), signaturesForAddressPage)
		sigs, err := s.rpc.GetSignaturesForAddress(ctx, programID, page, before)
		if err != nil {
			return nil, fmt.Errorf("list signatures for %s: %w", programID, err)
		}
		newestFirst = append(newestFirst, sigs...)
		if len(sigs) < page {
			break
		}
		before = sigs[len(sigs)-1]
	}

	oldestFirst := make([]string, len(newestFirst))
	for i, sig := range newestFirst {
		oldestFirst[len(newestFirst)-1-i] = sig
	}
	return oldestFirst, nil
}

// Confirmed pairs a decoded transaction with its metadata. Nil inputs stay nil.
func Confirmed(tx *solana.Transaction, meta *rpc.TransactionMeta) *farm.ConfirmedTransaction {
	confirmed := &farm.ConfirmedTransaction{}
	if tx != nil {
		decoded := DecodeTransaction(tx)
		confirmed.Transaction = &decoded
	}
	if meta != nil {
		confirmed.Meta = &farm.TransactionMeta{
			Err:         meta.Err,
			LogMessages: meta.LogMessages,
		}
	}
	return confirmed
}

// DecodeTransaction copies raw signatures and static account keys, in message order.
// Addresses loaded from lookup tables are not appended.
func DecodeTransaction(tx *solana.Transaction) farm.Transaction {
	out := farm.Transaction{
		Signatures: make([][]byte, 0, len(tx.Signatures)),
		Message:    &farm.Message{AccountKeys: make([][]byte, 0, len(tx.Message.AccountKeys))},
	}
	for _, sig := range tx.Signatures {
		out.Signatures = append(out.Signatures, append([]byte(nil), sig[:]...))
	}
	for _, key := range tx.Message.AccountKeys {
		out.Message.AccountKeys = append(out.Message.AccountKeys, append([]byte(nil), key[:]...))
	}
	return out
}

// IsSkippedSlot reports whether err means the slot has no block
func IsSkippedSlot(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case codeSlotSkipped, codeLongTermSlotSkipped:
		return true
	}
	return false
}
