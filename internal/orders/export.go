package orders

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	"github.com/joao-fontenele/bitelynk/internal/domain"
)

var exportHeader = []string{
	"Order ID", "Reference", "Placed At", "Customer", "Email", "Phone",
	"Address", "City", "State", "Country", "Items",
	"Subtotal", "VAT", "Delivery Fee", "Total",
	"Payment Method", "Payment Status", "Order Status", "Delivered At", "Cancelled At",
}

// WriteWorkbook renders orders as a single-sheet xlsx workbook.
func WriteWorkbook(w io.Writer, orders []domain.Order) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Orders")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, title := range exportHeader {
		header.AddCell().SetString(title)
	}

	for _, o := range orders {
		row := sheet.AddRow()
		row.AddCell().SetString(o.ID)
		row.AddCell().SetString(o.TransactionRef)
		row.AddCell().SetString(o.CreatedAt.UTC().Format(time.RFC3339))
		row.AddCell().SetString(o.CustomerName())
		row.AddCell().SetString(o.Email)
		row.AddCell().SetString(o.Phone)
		row.AddCell().SetString(o.Address)
		row.AddCell().SetString(o.City)
		row.AddCell().SetString(o.State)
		row.AddCell().SetString(o.Country)
		row.AddCell().SetString(describeItems(o.Items))
		for _, amount := range []decimal.Decimal{o.Subtotal, o.VAT, o.DeliveryFee, o.Total} {
			row.AddCell().SetFloat(amount.Round(2).InexactFloat64())
		}
		row.AddCell().SetString(string(o.PaymentMethod))
		row.AddCell().SetString(string(o.PaymentStatus))
		row.AddCell().SetString(string(o.OrderStatus))
		row.AddCell().SetString(formatOptionalTime(o.DeliveredAt))
		row.AddCell().SetString(formatOptionalTime(o.CancelledAt))
	}

	return file.Write(w)
}

func describeItems(items []domain.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
	}
	return strings.Join(parts, ", ")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
