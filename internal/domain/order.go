package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Token kinds are the ERC-165 interface identifiers carried in Party.Kind.
const (
	KindERC20   = "0x36372b07"
	KindERC721  = "0x80ac58cd"
	KindERC1155 = "0xd9b67a26"
)

// Party is one side of a swap order. Amounts and IDs are decimal strings so
// they survive JSON without precision loss.
type Party struct {
	Wallet string `json:"wallet"`
	Token  string `json:"token"`
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

// Order is an off-chain signed swap order as returned by an indexer. The
// signer offers an asset; the sender pays currency plus fees.
type Order struct {
	Nonce           string `json:"nonce"`
	Expiry          string `json:"expiry"`
	Signer          Party  `json:"signer"`
	Sender          Party  `json:"sender"`
	AffiliateWallet string `json:"affiliateWallet"`
	AffiliateAmount string `json:"affiliateAmount"`
	ProtocolFee     string `json:"protocolFee"`
	ChainID         int64  `json:"chainId"`
	SwapContract    string `json:"swapContract"`
	V               string `json:"v"`
	R               string `json:"r"`
	S               string `json:"s"`
}

// Key identifies an order for de-duplication. Nonces are chosen by the signer
// and are not unique on their own.
func (o Order) Key() string {
	return o.Nonce + ":" + o.Signer.Token + ":" + o.Signer.ID
}

// ExpiresAt returns the expiry as a UTC time. An unparsable expiry yields the
// zero time, which every clock reading is after.
func (o Order) ExpiresAt() time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(o.Expiry), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// IsExpired reports whether now is strictly after the order expiry.
func (o Order) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt())
}

// SenderAmount parses the sender amount in base units.
func (o Order) SenderAmount() (*big.Int, error) {
	return parseUint("sender.amount", o.Sender.Amount)
}

// FeeBasisPoints returns the protocol fee and affiliate amount.
func (o Order) FeeBasisPoints() (protocol, affiliate *big.Int, err error) {
	protocol, err = parseUint("protocolFee", o.ProtocolFee)
	if err != nil {
		return nil, nil, err
	}
	affiliate, err = parseUint("affiliateAmount", o.AffiliateAmount)
	if err != nil {
		return nil, nil, err
	}
	return protocol, affiliate, nil
}

// Validate checks the fields needed to derive state and settle the order.
func (o Order) Validate() error {
	if strings.TrimSpace(o.Nonce) == "" {
		return fmt.Errorf("%w: empty nonce", ErrInvalidOrder)
	}
	if _, err := parseUint("nonce", o.Nonce); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(o.Expiry), 10, 64); err != nil {
		return fmt.Errorf("%w: expiry %q", ErrInvalidOrder, o.Expiry)
	}
	if o.Signer.Wallet == "" || o.Signer.Token == "" {
		return fmt.Errorf("%w: signer wallet and token are required", ErrInvalidOrder)
	}
	if o.Sender.Token == "" {
		return fmt.Errorf("%w: sender token is required", ErrInvalidOrder)
	}
	if _, err := o.SenderAmount(); err != nil {
		return err
	}
	if _, _, err := o.FeeBasisPoints(); err != nil {
		return err
	}
	return nil
}

// parseUint parses a non-negative base-10 integer. An empty string is zero,
// matching how indexers omit unset fee fields.
func parseUint(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidOrder, field, s)
	}
	return n, nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
