package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// swapParty and swapOrder mirror the Party and Order tuples of the swap
// contract. Field names must match the ABI component names.
type swapParty struct {
	Wallet common.Address
	Token  common.Address
	Kind   [4]byte
	Id     *big.Int
	Amount *big.Int
}

type swapOrder struct {
	Nonce           *big.Int
	Expiry          *big.Int
	Signer          swapParty
	Sender          swapParty
	AffiliateWallet common.Address
	AffiliateAmount *big.Int
	V               uint8
	R               [32]byte
	S               [32]byte
}

// toSwapOrder converts an indexed order into its contract tuple.
func toSwapOrder(o domain.Order) (swapOrder, error) {
	var out swapOrder
	var err error

	if out.Nonce, err = parseUint256("nonce", o.Nonce); err != nil {
		return out, err
	}
	if out.Expiry, err = parseUint256("expiry", o.Expiry); err != nil {
		return out, err
	}
	if out.Signer, err = toSwapParty("signer", o.Signer); err != nil {
		return out, err
	}
	if out.Sender, err = toSwapParty("sender", o.Sender); err != nil {
		return out, err
	}
	if out.AffiliateWallet, err = parseAddress("affiliateWallet", o.AffiliateWallet, true); err != nil {
		return out, err
	}
	if out.AffiliateAmount, err = parseUint256("affiliateAmount", o.AffiliateAmount); err != nil {
		return out, err
	}

	v, err := strconv.ParseUint(strings.TrimSpace(o.V), 10, 8)
	if err != nil {
		return out, fmt.Errorf("%w: v %q", domain.ErrInvalidOrder, o.V)
	}
	out.V = uint8(v)
	if out.R, err = parseBytes32("r", o.R); err != nil {
		return out, err
	}
	if out.S, err = parseBytes32("s", o.S); err != nil {
		return out, err
	}
	return out, nil
}

func toSwapParty(field string, p domain.Party) (swapParty, error) {
	var out swapParty
	var err error
	// Only the sender may be left open for any taker.
	if out.Wallet, err = parseAddress(field+".wallet", p.Wallet, field == "sender"); err != nil {
		return out, err
	}
	if out.Token, err = parseAddress(field+".token", p.Token, false); err != nil {
		return out, err
	}
	kind, err := decodeHex(p.Kind)
	if err != nil || len(kind) != 4 {
		return out, fmt.Errorf("%w: %s.kind %q", domain.ErrInvalidOrder, field, p.Kind)
	}
	copy(out.Kind[:], kind)
	if out.Id, err = parseUint256(field+".id", p.ID); err != nil {
		return out, err
	}
	if out.Amount, err = parseUint256(field+".amount", p.Amount); err != nil {
		return out, err
	}
	return out, nil
}

// parseAddress accepts an empty value as the zero address when optional.
func parseAddress(field, s string, optional bool) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" && optional {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", domain.ErrInvalidOrder, field, s)
	}
	return common.HexToAddress(s), nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func parseUint256(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%w: %s %q", domain.ErrInvalidOrder, field, s)
	}
	return n, nil
}

func parseBytes32(field, s string) ([32]byte, error) {
	var out [32]byte
	b, err := decodeHex(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("%w: %s %q", domain.ErrInvalidOrder, field, s)
	}
	copy(out[:], b)
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// decodeCheckErrors turns the bytes32 reasons returned by check into
// strings, keeping only the first count entries.
func decodeCheckErrors(count *big.Int, reasons [][32]byte) []string {
	n := len(reasons)
	if count != nil && count.IsInt64() && count.Int64() < int64(n) {
		n = int(count.Int64())
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for _, r := range reasons[:n] {
		out = append(out, string(bytes.TrimRight(r[:], "\x00")))
	}
	return out
}
