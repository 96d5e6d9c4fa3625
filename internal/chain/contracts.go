package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// NonceUsed reports whether the signer has consumed nonce, which means the
// order was taken or cancelled.
func (c *Client) NonceUsed(ctx context.Context, order domain.Order) (bool, error) {
	signer, err := parseAddress("signer.wallet", order.Signer.Wallet, false)
	if err != nil {
		return false, err
	}
	nonce, err := parseUint256("nonce", order.Nonce)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, parsedSwapABI, c.swap, "nonceUsed", signer, nonce)
	if err != nil {
		return false, err
	}
	used, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: nonceUsed: unexpected output %T", out[0])
	}
	return used, nil
}

// CheckOrder asks the swap contract whether senderWallet could fill order
// and returns the reasons it could not. An empty result means the order is
// fillable.
func (c *Client) CheckOrder(ctx context.Context, order domain.Order, senderWallet string) ([]string, error) {
	sender, err := parseAccount(senderWallet)
	if err != nil {
		return nil, err
	}
	tuple, err := toSwapOrder(order)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, parsedSwapABI, c.swap, "check", sender, tuple)
	if err != nil {
		return nil, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: check: unexpected count %T", out[0])
	}
	reasons, ok := out[1].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("chain: check: unexpected errors %T", out[1])
	}
	return decodeCheckErrors(count, reasons), nil
}

// OrdersValid validates many orders in one batch call. The result is
// aligned with orders. The zero address stands in for the sender so the
// check does not depend on any particular buyer.
func (c *Client) OrdersValid(ctx context.Context, orders []domain.Order) ([]bool, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if c.batch == (common.Address{}) {
		return nil, fmt.Errorf("chain: batch call contract not configured")
	}
	tuples := make([]swapOrder, len(orders))
	for i, o := range orders {
		t, err := toSwapOrder(o)
		if err != nil {
			return nil, fmt.Errorf("chain: order %s: %w", o.Key(), err)
		}
		tuples[i] = t
	}
	out, err := c.call(ctx, parsedBatchCallABI, c.batch, "checkOrders", common.Address{}, tuples, c.swap)
	if err != nil {
		return nil, err
	}
	valid, ok := out[0].([]bool)
	if !ok {
		return nil, fmt.Errorf("chain: checkOrders: unexpected output %T", out[0])
	}
	if len(valid) != len(orders) {
		return nil, fmt.Errorf("chain: checkOrders: got %d results for %d orders", len(valid), len(orders))
	}
	return valid, nil
}

// Allowance returns how much of token the swap contract may spend for owner.
func (c *Client) Allowance(ctx context.Context, token, owner string) (*big.Int, error) {
	return c.tokenAmount(ctx, token, "allowance", owner, c.swap)
}

// BalanceOf returns the token balance of account.
func (c *Client) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	return c.tokenAmount(ctx, token, "balanceOf", account)
}

func (c *Client) tokenAmount(ctx context.Context, token, method, account string, extra ...any) (*big.Int, error) {
	tokenAddr, err := parseAccount(token)
	if err != nil {
		return nil, err
	}
	acct, err := parseAccount(account)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, parsedERC20ABI, tokenAddr, method, append([]any{acct}, extra...)...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s: unexpected output %T", method, out[0])
	}
	return v, nil
}

// sendApproval grants the swap contract an unlimited allowance of token.
func (c *Client) sendApproval(ctx context.Context, signer TxSigner, token string) (common.Hash, error) {
	tokenAddr, err := parseAccount(token)
	if err != nil {
		return common.Hash{}, err
	}
	return c.send(ctx, signer, parsedERC20ABI, tokenAddr, "approve", c.swap, maxUint256)
}

// sendSwap submits the swap for order with the signer as recipient. No
// royalty beyond what the order already carries is accepted.
func (c *Client) sendSwap(ctx context.Context, signer TxSigner, order domain.Order) (common.Hash, error) {
	tuple, err := toSwapOrder(order)
	if err != nil {
		return common.Hash{}, err
	}
	return c.send(ctx, signer, parsedSwapABI, c.swap, "swap", signer.Address(), new(big.Int), tuple)
}
