// Package evm implements ledger.Gateway against EVM contracts over JSON-RPC.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"royaltysync/ledger"
)

// Backend is the subset of the Ethereum RPC the gateway uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// Addresses locates the three contracts.
type Addresses struct {
	PaymentToken  common.Address
	RoyaltyToken  common.Address
	BadgeRegistry common.Address
}

// Config captures gateway settings.
type Config struct {
	Endpoint          string
	ChainID           *big.Int
	Contracts         Addresses
	ABIs              ABIPaths
	ConfirmPoll       time.Duration
	GasLimit          uint64
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// Client is a ledger.Gateway bound to one signing key.
type Client struct {
	backend     Backend
	key         *ecdsa.PrivateKey
	account     common.Address
	chainID     *big.Int
	addrs       Addresses
	abis        contracts
	limiter     *rate.Limiter
	confirmPoll time.Duration
	gasLimit    uint64
	logger      *slog.Logger

	// serialises nonce allocation across concurrent writers
	txMu sync.Mutex
}

var _ ledger.Gateway = (*Client)(nil)

// Dial connects to the configured endpoint and binds the gateway to key.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	backend, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	client, err := New(ctx, backend, cfg, key)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return client, nil
}

// New binds an existing backend.
func New(ctx context.Context, backend Backend, cfg Config, key *ecdsa.PrivateKey) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("evm backend required")
	}
	if key == nil {
		return nil, fmt.Errorf("signing key required")
	}
	if (cfg.Contracts.PaymentToken == common.Address{}) || (cfg.Contracts.RoyaltyToken == common.Address{}) || (cfg.Contracts.BadgeRegistry == common.Address{}) {
		return nil, fmt.Errorf("all contract addresses must be configured")
	}
	abis, err := loadContracts(cfg.ABIs)
	if err != nil {
		return nil, err
	}
	chainID := cfg.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	poll := cfg.ConfirmPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:     backend,
		key:         key,
		account:     gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:     new(big.Int).Set(chainID),
		addrs:       cfg.Contracts,
		abis:        abis,
		limiter:     rate.NewLimiter(limit, burst),
		confirmPoll: poll,
		gasLimit:    cfg.GasLimit,
		logger:      logger.With(slog.String("component", "ledger/evm")),
	}, nil
}

// Account returns the signing address.
func (c *Client) Account() common.Address { return c.account }

// RoyaltyLedger returns the royalty token contract address.
func (c *Client) RoyaltyLedger() common.Address { return c.addrs.RoyaltyToken }

// Close releases the RPC connection.
func (c *Client) Close() { c.backend.Close() }

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.account, To: &to, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%s reverted: %w", method, errReverted)
		}
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// transact signs, submits and waits for one state-changing call. Rejections
// are wrapped with ledger.ErrWriteRejected and, when supplied, rejected.
func (c *Client) transact(ctx context.Context, to common.Address, contract abi.ABI, rejected error, method string, args ...interface{}) error {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	reject := func(cause string) error {
		if rejected != nil {
			return fmt.Errorf("%s %s: %w: %w", method, cause, ledger.ErrWriteRejected, rejected)
		}
		return fmt.Errorf("%s %s: %w", method, cause, ledger.ErrWriteRejected)
	}

	c.txMu.Lock()
	hash, err := c.submit(ctx, to, data, reject)
	c.txMu.Unlock()
	if err != nil {
		return err
	}
	c.logger.Debug("transaction submitted", slog.String("method", method), slog.String("tx", hash.Hex()))

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return fmt.Errorf("%s confirmation: %w", method, err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return reject(fmt.Sprintf("transaction %s failed", hash.Hex()))
	}
	return nil
}

func (c *Client) submit(ctx context.Context, to common.Address, data []byte, reject func(string) error) (common.Hash, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return common.Hash{}, err
	}
	gas := c.gasLimit
	if gas == 0 {
		estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.account, To: &to, Data: data})
		if err != nil {
			if isRevert(err) {
				return common.Hash{}, reject("reverted")
			}
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
		gas = estimate + estimate/5
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if isRevert(err) {
			return common.Hash{}, reject("reverted")
		}
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(c.confirmPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var errReverted = errors.New("execution reverted")

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
