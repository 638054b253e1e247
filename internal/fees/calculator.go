// Package fees prices a credit purchase.
package fees

import (
	"errors"
	"fmt"

	"carbonledger/internal/payment"

	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("invalid input")

var (
	PlatformRate      = decimal.RequireFromString("0.005")
	DefaultNetworkFee = decimal.NewFromInt(25)
)

var processorRates = map[payment.Method]decimal.Decimal{
	payment.MethodCard:         decimal.RequireFromString("0.029"),
	payment.MethodBankTransfer: decimal.RequireFromString("0.005"),
	payment.MethodCrypto:       decimal.RequireFromString("0.01"),
}

type Quote struct {
	BaseValue    decimal.Decimal `json:"base_value"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	ProcessorFee decimal.Decimal `json:"processor_fee"`
	NetworkFee   decimal.Decimal `json:"network_fee"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	Total        decimal.Decimal `json:"total"`
}

func (q Quote) Fees() payment.Fees {
	return payment.Fees{
		Platform:  q.PlatformFee,
		Processor: q.ProcessorFee,
		Network:   q.NetworkFee,
		Total:     q.TotalFees,
	}
}

type Calculator struct {
	networkFee decimal.Decimal
}

func NewCalculator(networkFee decimal.Decimal) *Calculator {
	return &Calculator{networkFee: round(networkFee)}
}

// ProcessorRate returns the percentage the rail charges for method.
func ProcessorRate(method payment.Method) (decimal.Decimal, bool) {
	r, ok := processorRates[method]
	return r, ok
}

// Calculate prices creditAmount credits at pricePerUnit. Every component is
// rounded half-up to cents.
func (c *Calculator) Calculate(creditAmount, pricePerUnit decimal.Decimal, method payment.Method) (Quote, error) {
	if !creditAmount.IsPositive() {
		return Quote{}, fmt.Errorf("%w: credit amount must be positive", ErrInvalidInput)
	}
	if !pricePerUnit.IsPositive() {
		return Quote{}, fmt.Errorf("%w: price per unit must be positive", ErrInvalidInput)
	}
	rate, ok := ProcessorRate(method)
	if !ok {
		return Quote{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, method)
	}

	base := round(creditAmount.Mul(pricePerUnit))
	platform := round(base.Mul(PlatformRate))
	processor := round(base.Mul(rate))
	totalFees := platform.Add(processor).Add(c.networkFee)

	return Quote{
		BaseValue:    base,
		PlatformFee:  platform,
		ProcessorFee: processor,
		NetworkFee:   c.networkFee,
		TotalFees:    totalFees,
		Total:        base.Add(totalFees),
	}, nil
}

// Calculate uses the default network fee.
func Calculate(creditAmount, pricePerUnit decimal.Decimal, method payment.Method) (Quote, error) {
	return NewCalculator(DefaultNetworkFee).Calculate(creditAmount, pricePerUnit, method)
}

// decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts priced here.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
