package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"
)

// Client represents a Solana RPC client wrapper
type Client struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
	timeout    time.Duration
	logger     *logrus.Logger
}

// ClientConfig contains configuration for Solana client
type ClientConfig struct {
	RPCEndpoint string
	APIKey      string
	Commitment  string
	Timeout     time.Duration
}

// NewClient creates a new Solana RPC client
func NewClient(config ClientConfig, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Commitment == "" {
		config.Commitment = string(rpc.CommitmentConfirmed)
	}

	var rpcClient *rpc.Client
	if config.APIKey != "" {
		rpcClient = rpc.NewWithHeaders(config.RPCEndpoint, map[string]string{
			"Authorization": "Bearer " + config.APIKey,
		})
	} else {
		rpcClient = rpc.New(config.RPCEndpoint)
	}

	return &Client{
		client:     rpcClient,
		commitment: rpc.CommitmentType(config.Commitment),
		timeout:    config.Timeout,
		logger:     logger,
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// GetTransaction gets a confirmed transaction in binary form
func (c *Client) GetTransaction(ctx context.Context, signature string) (*rpc.GetTransactionResult, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.client.GetTransaction(
		ctx,
		sig,
		&rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		},
	)
	if err != nil {
		return nil, fmt.Errorf("getTransaction failed: %w", err)
	}

	return result, nil
}

// GetBlock gets a block with full transaction details
func (c *Client) GetBlock(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rewards := false
	result, err := c.client.GetBlockWithOpts(ctx, slot, &rpc.GetBlockOpts{
		Encoding:                       solana.EncodingBase64,
		TransactionDetails:             rpc.TransactionDetailsFull,
		Rewards:                        &rewards,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	})
	if err != nil {
		return nil, fmt.Errorf("getBlock failed: %w", err)
	}

	return result, nil
}

// GetSlot gets current slot
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.client.GetSlot(ctx, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("getSlot failed: %w", err)
	}

	return result, nil
}

// GetSignaturesForAddress lists recent signatures touching an address, newest first
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int, before string) ([]string, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.commitment,
	}
	if before != "" {
		sig, err := solana.SignatureFromBase58(before)
		if err != nil {
			return nil, fmt.Errorf("invalid signature: %w", err)
		}
		opts.Before = sig
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.client.GetSignaturesForAddressWithOpts(ctx, pubkey, opts)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress failed: %w", err)
	}

	sigs := make([]string, 0, len(result))
	for _, info := range result {
		sigs = append(sigs, info.Signature.String())
	}

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"count":   len(sigs),
	}).Debug("Fetched signatures for address")

	return sigs, nil
}

// Close releases the underlying HTTP client
func (c *Client) Close() error {
	return c.client.Close()
}
