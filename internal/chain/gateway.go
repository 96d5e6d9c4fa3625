package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/alanyoungcy/swapmarket/internal/purchase"
)

var _ purchase.Gateway = (*Gateway)(nil)

// Gateway carries out purchase steps for one wallet: it asks for consent,
// submits the transaction and hands it to the tracker.
type Gateway struct {
	client  *Client
	signer  TxSigner
	confirm Confirmer
	tracker *Tracker
	now     func() time.Time
}

// NewGateway wires a Gateway.
func NewGateway(client *Client, signer TxSigner, confirm Confirmer, tracker *Tracker) *Gateway {
	return &Gateway{
		client:  client,
		signer:  signer,
		confirm: confirm,
		tracker: tracker,
		now:     time.Now,
	}
}

// Account returns the buyer address as a hex string.
func (g *Gateway) Account() string {
	return g.signer.Address().Hex()
}

// CheckOrder implements purchase.OrderChecker.
func (g *Gateway) CheckOrder(ctx context.Context, order domain.Order, senderWallet string) ([]string, error) {
	return g.client.CheckOrder(ctx, order, senderWallet)
}

// SubmitApproval implements purchase.ApprovalSubmitter.
func (g *Gateway) SubmitApproval(ctx context.Context, token string) (domain.Transaction, error) {
	err := g.confirm.Confirm(ctx, Prompt{
		Action:   "approve",
		Contract: token,
		Detail:   fmt.Sprintf("allow %s to spend this token", g.client.SwapContract().Hex()),
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("chain: approval: %w", classifyError(err))
	}
	hash, err := g.client.sendApproval(ctx, g.signer, token)
	if err != nil {
		return domain.Transaction{}, err
	}
	return g.tracker.Track(ctx, domain.Transaction{
		Hash:  hash.Hex(),
		Type:  domain.TxApproval,
		Token: token,
	}), nil
}

// SubmitSettlement implements purchase.SettlementSubmitter.
func (g *Gateway) SubmitSettlement(ctx context.Context, order domain.Order, senderWallet string) (domain.Transaction, error) {
	if !domain.SameAddress(senderWallet, g.Account()) {
		return domain.Transaction{}, fmt.Errorf("chain: settlement: sender %s is not the wallet account", senderWallet)
	}
	err := g.confirm.Confirm(ctx, Prompt{
		Action:   "swap",
		Contract: g.client.SwapContract().Hex(),
		Detail: fmt.Sprintf("buy %s #%s for %s of %s",
			order.Signer.Token, order.Signer.ID, order.Sender.Amount, order.Sender.Token),
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("chain: settlement: %w", classifyError(err))
	}
	hash, err := g.client.sendSwap(ctx, g.signer, order)
	if err != nil {
		return domain.Transaction{}, err
	}
	return g.tracker.Track(ctx, domain.Transaction{
		Hash:     hash.Hex(),
		Type:     domain.TxOrder,
		OrderKey: order.Key(),
		Token:    order.Sender.Token,
	}), nil
}
