// Package reports computes the dashboard and report figures as pure
// functions over a snapshot. It holds no state and never mutates.
package reports

import (
	"slices"

	"souqpos/internal/domain"
)

// DeletedProductLabel is the soft-fail display name for invoice items
// whose product no longer exists.
const DeletedProductLabel = "deleted product"

type StoreDebt struct {
	Store domain.Store `json:"store"`
	Debt  float64      `json:"debt"`
}

type Summary struct {
	TotalDebts    float64     `json:"totalDebts"`
	LowStockCount int         `json:"lowStockCount"`
	StoreDebts    []StoreDebt `json:"storeDebts"`
}

type ProductSales struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type Debtor struct {
	Name string  `json:"name"`
	Debt float64 `json:"debt"`
}

// StoreDebts computes each store's outstanding balance: everything billed
// to it minus everything paid across its invoices.
func StoreDebts(data domain.Snapshot) []StoreDebt {
	debts := make([]StoreDebt, 0, len(data.Stores))
	for _, store := range data.Stores {
		billed := 0.0
		paid := 0.0
		for _, invoice := range data.Invoices {
			if invoice.StoreID != store.ID {
				continue
			}
			billed += invoice.TotalAmount
			for _, payment := range invoice.Payments {
				paid += payment.Amount
			}
		}
		debts = append(debts, StoreDebt{Store: store, Debt: billed - paid})
	}
	return debts
}

// Summarize builds the dashboard header figures. Only positive balances
// count toward the debt total.
func Summarize(data domain.Snapshot) Summary {
	debts := StoreDebts(data)
	total := 0.0
	for _, entry := range debts {
		if entry.Debt > 0 {
			total += entry.Debt
		}
	}
	return Summary{
		TotalDebts:    total,
		LowStockCount: len(LowStock(data)),
		StoreDebts:    debts,
	}
}

// BestSelling ranks products by total quantity across all invoice items
// and returns the top five. Items referencing a deleted product keep their
// quantities under a placeholder label.
func BestSelling(data domain.Snapshot) []ProductSales {
	byProduct := map[string]int{}
	for _, invoice := range data.Invoices {
		for _, item := range invoice.Items {
			byProduct[item.ProductID] += item.Quantity
		}
	}

	sales := make([]ProductSales, 0, len(byProduct))
	for productID, quantity := range byProduct {
		name := DeletedProductLabel
		for _, product := range data.Products {
			if product.ID == productID {
				name = product.Name
				break
			}
		}
		sales = append(sales, ProductSales{Name: name, Quantity: quantity})
	}

	slices.SortFunc(sales, func(a, b ProductSales) int {
		if a.Quantity == b.Quantity {
			return cmpString(a.Name, b.Name)
		}
		if a.Quantity > b.Quantity {
			return -1
		}
		return 1
	})
	if len(sales) > 5 {
		sales = sales[:5]
	}
	return sales
}

// TopDebtors returns up to five stores with a positive outstanding
// balance, largest first.
func TopDebtors(data domain.Snapshot) []Debtor {
	debtors := make([]Debtor, 0, len(data.Stores))
	for _, entry := range StoreDebts(data) {
		if entry.Debt > 0 {
			debtors = append(debtors, Debtor{Name: entry.Store.Name, Debt: entry.Debt})
		}
	}
	slices.SortFunc(debtors, func(a, b Debtor) int {
		if a.Debt == b.Debt {
			return cmpString(a.Name, b.Name)
		}
		if a.Debt > b.Debt {
			return -1
		}
		return 1
	})
	if len(debtors) > 5 {
		debtors = debtors[:5]
	}
	return debtors
}

// LowStock lists products whose stock is strictly under the configured
// minimum.
func LowStock(data domain.Snapshot) []domain.Product {
	low := make([]domain.Product, 0, 8)
	for _, product := range data.Products {
		if product.Stock < data.Settings.MinStock {
			low = append(low, product)
		}
	}
	return low
}

// USDTotal converts an invoice total using the configured rate as a plain
// divisor. A zero rate yields zero rather than an error; precision beyond
// simple division is out of scope.
func USDTotal(invoice domain.Invoice, settings domain.AppSettings) float64 {
	if settings.USDRate == 0 {
		return 0
	}
	return invoice.TotalAmount / settings.USDRate
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
