package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidProtective = errors.New("invalid protective prices")

// OrderSize converts collateral and leverage into a base-asset amount,
// floored to lotPrecision decimals. A non-positive result means the
// signal cannot be traded.
func OrderSize(collateralUSD float64, leverage int, mark float64, lotPrecision int) decimal.Decimal {
	if mark <= 0 || collateralUSD <= 0 || leverage <= 0 {
		return decimal.Zero
	}
	notional := decimal.NewFromFloat(collateralUSD).Mul(decimal.NewFromInt(int64(leverage)))
	return notional.Div(decimal.NewFromFloat(mark)).RoundFloor(int32(lotPrecision))
}

// Protective holds take-profit and stop-loss trigger prices.
type Protective struct {
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// ProtectivePrices derives TP/SL triggers as a relative move of
// collateral*pct/(entry*amount) away from entry, rounded to pricePrecision
// decimals.
func ProtectivePrices(side Side, entry, amount, collateralUSD, tpPercent, slPercent float64, pricePrecision int) (Protective, error) {
	if entry <= 0 || amount <= 0 {
		return Protective{}, fmt.Errorf("%w: entry=%v amount=%v", ErrInvalidProtective, entry, amount)
	}
	entryD := decimal.NewFromFloat(entry)
	positionValue := entryD.Mul(decimal.NewFromFloat(amount))
	collateral := decimal.NewFromFloat(collateralUSD)
	tpMove := collateral.Mul(decimal.NewFromFloat(tpPercent)).Div(positionValue)
	slMove := collateral.Mul(decimal.NewFromFloat(slPercent)).Div(positionValue)
	one := decimal.NewFromInt(1)

	var tp, sl decimal.Decimal
	switch side {
	case SideLong:
		tp = entryD.Mul(one.Add(tpMove))
		sl = entryD.Mul(one.Sub(slMove))
	case SideShort:
		tp = entryD.Mul(one.Sub(tpMove))
		sl = entryD.Mul(one.Add(slMove))
	default:
		return Protective{}, fmt.Errorf("%w: unknown side %q", ErrInvalidProtective, side)
	}
	places := int32(pricePrecision)
	out := Protective{TakeProfit: tp.Round(places), StopLoss: sl.Round(places)}
	if !out.TakeProfit.IsPositive() || !out.StopLoss.IsPositive() {
		return Protective{}, fmt.Errorf("%w: tp=%s sl=%s", ErrInvalidProtective, out.TakeProfit, out.StopLoss)
	}
	return out, nil
}
