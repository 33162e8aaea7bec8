// Package chain submits ERC-20 transfers from the faucet wallet.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"faucet/internal/observability/metrics"
)

const erc20TransferABI = `[{"type":"function","name":"transfer","stateMutability":"nonpayable",
"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
"outputs":[{"name":"","type":"bool"}]}]`

var erc20 = mustParseABI(erc20TransferABI)

// Config describes the faucet wallet and token.
type Config struct {
	RPCURL       string
	PrivateKey   string
	TokenAddress string
	// Timeout bounds a whole transfer submission. Zero means no extra bound.
	Timeout time.Duration
}

// Client signs and submits token transfers. Submissions are serialised so
// concurrent claims do not race on the wallet nonce.
type Client struct {
	rpc     *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	token   common.Address
	chainID *big.Int
	timeout time.Duration
	mu      sync.Mutex
}

// Dial connects to the RPC endpoint and resolves the chain id.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if !IsValidAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse faucet private key: %w", err)
	}
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}
	return &Client{
		rpc:     rpc,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		token:   common.HexToAddress(cfg.TokenAddress),
		chainID: chainID,
		timeout: cfg.Timeout,
	}, nil
}

// Close shuts down the RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// From is the faucet wallet address.
func (c *Client) From() common.Address { return c.from }

// Transfer sends amount base units of the token to the recipient and returns the
// transaction hash once the node accepted it. It does not wait for inclusion.
func (c *Client) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveChainOperation("transfer", time.Since(start)) }()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := PackTransfer(to, amount)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.rpc.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	// Estimation executes the call, so reverts such as an empty faucet surface here.
	gas, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.token, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.token,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// PackTransfer encodes the ERC-20 transfer(to, amount) call.
func PackTransfer(to string, amount *big.Int) ([]byte, error) {
	if !IsValidAddress(to) {
		return nil, fmt.Errorf("invalid recipient %q", to)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.New("transfer amount must be positive")
	}
	return erc20.Pack("transfer", common.HexToAddress(to), amount)
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
