// Package chain talks to the swap, batch-call and ERC20 contracts over
// JSON-RPC and tracks the transactions it submits.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of the node API the client uses. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// TxSigner signs transactions for the buyer's account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Config holds connection settings.
type Config struct {
	RPCURL            string
	ChainID           int64
	SwapContract      string
	BatchCallContract string
	RequestTimeout    time.Duration
}

// Client wraps a node connection with the contracts the marketplace uses.
type Client struct {
	backend        Backend
	chainID        int64
	swap           common.Address
	batch          common.Address
	requestTimeout time.Duration
	logger         *slog.Logger

	// sendMu serialises nonce selection for outgoing transactions.
	sendMu sync.Mutex
}

// Dial connects to the node at cfg.RPCURL and checks that it serves the
// configured chain.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, func(), error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	c, err := NewClient(eth, cfg, logger)
	if err != nil {
		eth.Close()
		return nil, nil, err
	}

	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	id, err := eth.ChainID(cctx)
	if err != nil {
		eth.Close()
		return nil, nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if id.Int64() != cfg.ChainID {
		eth.Close()
		return nil, nil, fmt.Errorf("chain: node serves chain %s, configured %d", id, cfg.ChainID)
	}
	return c, eth.Close, nil
}

// NewClient builds a Client over an existing backend.
func NewClient(backend Backend, cfg Config, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.SwapContract) {
		return nil, fmt.Errorf("chain: invalid swap contract %q", cfg.SwapContract)
	}
	var batch common.Address
	if cfg.BatchCallContract != "" {
		if !common.IsHexAddress(cfg.BatchCallContract) {
			return nil, fmt.Errorf("chain: invalid batch call contract %q", cfg.BatchCallContract)
		}
		batch = common.HexToAddress(cfg.BatchCallContract)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		backend:        backend,
		chainID:        cfg.ChainID,
		swap:           common.HexToAddress(cfg.SwapContract),
		batch:          batch,
		requestTimeout: timeout,
		logger:         logger.With(slog.String("component", "chain")),
	}, nil
}

// SwapContract returns the swap contract address, the spender for approvals.
func (c *Client) SwapContract() common.Address {
	return c.swap
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.requestTimeout)
}

// call performs a read-only contract call and unpacks its outputs.
func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.backend.CallContract(cctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return values, nil
}

// send signs and broadcasts an EIP-1559 transaction calling method on to.
func (c *Client) send(ctx context.Context, signer TxSigner, contract abi.ABI, to common.Address, method string, args ...any) (common.Hash, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	from := signer.Address()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(cctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pending nonce: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(cctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: gas tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(cctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(cctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: estimate %s: %w", method, classifyError(err))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(c.chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign %s: %w", method, classifyError(err))
	}
	if err := c.backend.SendTransaction(cctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send %s: %w", method, classifyError(err))
	}

	c.logger.Info("transaction sent",
		slog.String("method", method),
		slog.String("hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)
	return signed.Hash(), nil
}

// Receipt returns the receipt for hash, or ok=false while it is pending.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error) {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	r, err := c.backend.TransactionReceipt(cctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
	}
	return r, true, nil
}

// parseAccount validates an account address supplied by callers.
func parseAccount(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid account %q", domain.ErrInvalidOrder, s)
	}
	return common.HexToAddress(s), nil
}
