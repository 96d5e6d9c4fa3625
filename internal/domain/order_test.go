package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func sampleOrder() Order {
	return Order{
		Nonce:           "7",
		Expiry:          "1700000000",
		Signer:          Party{Wallet: "0xAbC", Token: "0xNFT", Kind: KindERC721, ID: "42", Amount: "0"},
		Sender:          Party{Token: "0xUSDC", Kind: KindERC20, Amount: "1000000"},
		ProtocolFee:     "7",
		AffiliateAmount: "0",
		ChainID:         1,
	}
}

func TestOrderKey(t *testing.T) {
	if got := sampleOrder().Key(); got != "7:0xNFT:42" {
		t.Fatalf("Key() = %q", got)
	}
}

func TestOrderIsExpired(t *testing.T) {
	o := sampleOrder()
	expiry := time.Unix(1700000000, 0)

	if o.IsExpired(expiry) {
		t.Error("order must not be expired at exactly its expiry")
	}
	if !o.IsExpired(expiry.Add(time.Second)) {
		t.Error("order must be expired one second after expiry")
	}

	o.Expiry = "soon"
	if !o.IsExpired(expiry) {
		t.Error("unparsable expiry must count as expired")
	}
}

func TestOrderValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Order)
		ok     bool
	}{
		{"valid", func(*Order) {}, true},
		{"empty nonce", func(o *Order) { o.Nonce = "" }, false},
		{"bad expiry", func(o *Order) { o.Expiry = "x" }, false},
		{"negative amount", func(o *Order) { o.Sender.Amount = "-1" }, false},
		{"missing signer token", func(o *Order) { o.Signer.Token = "" }, false},
		{"bad fee", func(o *Order) { o.ProtocolFee = "1.5" }, false},
		{"empty affiliate defaults to zero", func(o *Order) { o.AffiliateAmount = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := sampleOrder()
			tt.mutate(&o)
			err := o.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("want ErrInvalidOrder, got %v", err)
			}
		})
	}
}

func TestValidationErrorsMatchSentinel(t *testing.T) {
	err := fmt.Errorf("check: %w", ValidationErrors{"SignatureInvalid", "NonceAlreadyUsed"})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatal("ValidationErrors must match ErrValidationFailed")
	}
	var ve ValidationErrors
	if !errors.As(err, &ve) || len(ve) != 2 {
		t.Fatalf("errors.As failed: %v", ve)
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0xABCdef", "0xabcDEF") {
		t.Error("addresses differing only in case must match")
	}
	if SameAddress("", "") {
		t.Error("empty addresses must not match")
	}
}
