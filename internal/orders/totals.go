package orders

import "github.com/shopspring/decimal"

// VATRate is the flat value-added tax applied to every order subtotal.
var VATRate = decimal.RequireFromString("0.075")

type Totals struct {
	Subtotal    decimal.Decimal
	VAT         decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

// CalculateTotals rounds VAT to two places, half away from zero.
func CalculateTotals(subtotal, deliveryFee decimal.Decimal) Totals {
	vat := subtotal.Mul(VATRate).Round(2)
	return Totals{
		Subtotal:    subtotal,
		VAT:         vat,
		DeliveryFee: deliveryFee,
		Total:       subtotal.Add(vat).Add(deliveryFee),
	}
}
