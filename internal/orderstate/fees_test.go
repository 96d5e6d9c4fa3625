package orderstate

import (
	"errors"
	"math/big"
	"testing"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

func TestTotalWithFeesVector(t *testing.T) {
	got, err := TotalWithFees(testOrder())
	if err != nil {
		t.Fatalf("TotalWithFees: %v", err)
	}
	if got.String() != "1030928" {
		t.Fatalf("got %s, want 1030928", got)
	}
}

func TestGrossUp(t *testing.T) {
	tests := []struct {
		amount, protocol, affiliate int64
		want                        string
	}{
		{1_000_000, 0, 0, "1000000"},
		{1_000_000, 300, 0, "1030928"},
		{1_000_000, 0, 300, "1030928"},
		{1_000_000, 250, 50, "1030928"},
		{100, 5000, 0, "200"},
		{1, 1, 0, "2"},
		{0, 300, 0, "0"},
		{9999, 0, 9999, "99990000"},
	}
	for _, tt := range tests {
		got, err := GrossUp(big.NewInt(tt.amount), big.NewInt(tt.protocol), big.NewInt(tt.affiliate))
		if err != nil {
			t.Fatalf("GrossUp(%d,%d,%d): %v", tt.amount, tt.protocol, tt.affiliate, err)
		}
		if got.String() != tt.want {
			t.Errorf("GrossUp(%d,%d,%d) = %s, want %s", tt.amount, tt.protocol, tt.affiliate, got, tt.want)
		}
	}
}

func TestGrossUpLargeAmountsStayExact(t *testing.T) {
	// 1e30 wei with a 3% fee; float64 would lose the low digits.
	amount, _ := new(big.Int).SetString("1000000000000000000000000000000", 10)
	got, err := GrossUp(amount, big.NewInt(300), big.NewInt(0))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "1030927835051546391752577319588" {
		t.Fatalf("got %s", got)
	}
}

func TestGrossUpFeeOverflow(t *testing.T) {
	cases := [][2]int64{{10000, 0}, {9000, 1000}, {0, 10000}, {6000, 6000}}
	for _, c := range cases {
		_, err := GrossUp(big.NewInt(1000), big.NewInt(c[0]), big.NewInt(c[1]))
		if !errors.Is(err, domain.ErrFeeOverflow) {
			t.Errorf("fees %v: want ErrFeeOverflow, got %v", c, err)
		}
	}
}

func TestGrossUpRejectsNegative(t *testing.T) {
	_, err := GrossUp(big.NewInt(-1), big.NewInt(0), big.NewInt(0))
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("want ErrInvalidOrder, got %v", err)
	}
}

func TestGrossUpMonotonic(t *testing.T) {
	amount := big.NewInt(1_000_000)
	prev := big.NewInt(-1)
	for p := int64(0); p < 10000; p += 97 {
		got, err := GrossUp(amount, big.NewInt(p), big.NewInt(0))
		if err != nil {
			t.Fatalf("protocol %d: %v", p, err)
		}
		if got.Cmp(prev) <= 0 {
			t.Fatalf("protocol %d: total %s not above %s", p, got, prev)
		}
		prev = got
	}

	prev = big.NewInt(-1)
	for f := int64(0); f < 9700; f += 89 {
		got, err := GrossUp(amount, big.NewInt(300), big.NewInt(f))
		if err != nil {
			t.Fatalf("affiliate %d: %v", f, err)
		}
		if got.Cmp(prev) <= 0 {
			t.Fatalf("affiliate %d: total %s not above %s", f, got, prev)
		}
		prev = got
	}
}

func TestTotalWithFeesOverflowFromOrder(t *testing.T) {
	o := testOrder()
	o.ProtocolFee = "7000"
	o.AffiliateAmount = "3000"
	if _, err := TotalWithFees(o); !errors.Is(err, domain.ErrFeeOverflow) {
		t.Fatalf("want ErrFeeOverflow, got %v", err)
	}
}
