package orderstate

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// basisPoints is the denominator of fee values.
var basisPoints = big.NewInt(10_000)

// TotalWithFees returns the sender amount grossed up by the protocol and
// affiliate fees, rounded up to the next base unit:
//
//	ceil(amount / (1 - (protocolFee+affiliateAmount)/10000))
//
// computed exactly as ceil(amount*10000 / (10000-protocolFee-affiliateAmount)).
func TotalWithFees(o domain.Order) (*big.Int, error) {
	amount, err := o.SenderAmount()
	if err != nil {
		return nil, err
	}
	protocol, affiliate, err := o.FeeBasisPoints()
	if err != nil {
		return nil, err
	}
	return GrossUp(amount, protocol, affiliate)
}

// GrossUp applies the fee formula to raw values. It fails with
// domain.ErrFeeOverflow when the combined fee reaches 100%.
func GrossUp(amount, protocolBps, affiliateBps *big.Int) (*big.Int, error) {
	if amount.Sign() < 0 || protocolBps.Sign() < 0 || affiliateBps.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount or fee", domain.ErrInvalidOrder)
	}

	fee := new(big.Int).Add(protocolBps, affiliateBps)
	denom := new(big.Int).Sub(basisPoints, fee)
	if denom.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s bps", domain.ErrFeeOverflow, fee)
	}

	num := new(big.Int).Mul(amount, basisPoints)
	q, r := new(big.Int).QuoRem(num, denom, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q, nil
}
