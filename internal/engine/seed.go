package engine

import (
	"slices"

	"souqpos/internal/domain"
)

// Seed returns the initial dataset used when nothing valid is persisted:
// a small wholesale catalog, three client stores and three invoices in
// each payment state.
func Seed() domain.Snapshot {
	products := []domain.Product{
		{ID: "p1", Name: "Premium Black Tea", Price: 15000, Stock: 120, Category: "Beverages", ImageURL: "https://picsum.photos/seed/p1/40"},
		{ID: "p2", Name: "Arabic Coffee", Price: 25000, Stock: 80, Category: "Beverages", ImageURL: "https://picsum.photos/seed/p2/40"},
		{ID: "p3", Name: "Date Biscuits", Price: 8000, Stock: 200, Category: "Sweets", ImageURL: "https://picsum.photos/seed/p3/40"},
		{ID: "p4", Name: "Virgin Olive Oil", Price: 50000, Stock: 4, Category: "Oils", ImageURL: "https://picsum.photos/seed/p4/40"},
		{ID: "p5", Name: "Apricot Jam", Price: 12000, Stock: 90, Category: "Canned Goods", ImageURL: "https://picsum.photos/seed/p5/40"},
	}

	stores := []domain.Store{
		{ID: "s1", Name: "Jasmine Store", Location: "Damascus, Mazzeh", Owner: "Ahmad Almasri", Phone: "0912345678"},
		{ID: "s2", Name: "Alnoor Supermarket", Location: "Aleppo, Furqan", Owner: "Fatima Kilani", Phone: "0987654321"},
		{ID: "s3", Name: "Albaraka Grocery", Location: "Homs, Waer", Owner: "Khaled Shami", Phone: "0911223344"},
	}

	invoices := []domain.Invoice{
		{
			ID:            "i1",
			InvoiceNumber: "INV-001",
			StoreID:       "s1",
			Date:          "2023-10-26",
			Items: []domain.InvoiceItem{
				{ProductID: "p1", Quantity: 10, Price: 14500},
				{ProductID: "p3", Quantity: 20, Price: 7800},
			},
			TotalAmount: 301000,
			Status:      domain.InvoiceStatusPartial,
			Payments: []domain.Payment{
				{ID: "pay1", Amount: 200000, Date: "2023-10-26", Method: domain.PaymentMethodCash},
			},
		},
		{
			ID:            "i2",
			InvoiceNumber: "INV-002",
			StoreID:       "s2",
			Date:          "2023-10-25",
			Items: []domain.InvoiceItem{
				{ProductID: "p2", Quantity: 5, Price: 25000},
			},
			TotalAmount: 125000,
			Status:      domain.InvoiceStatusPaid,
			Payments: []domain.Payment{
				{ID: "pay2", Amount: 125000, Date: "2023-10-25", Method: domain.PaymentMethodCard},
			},
		},
		{
			ID:            "i3",
			InvoiceNumber: "INV-003",
			StoreID:       "s3",
			Date:          "2023-10-27",
			Items: []domain.InvoiceItem{
				{ProductID: "p4", Quantity: 2, Price: 50000},
				{ProductID: "p5", Quantity: 10, Price: 12000},
			},
			TotalAmount: 220000,
			Status:      domain.InvoiceStatusUnpaid,
			Payments:    []domain.Payment{},
		},
	}

	categories := make([]string, 0, len(products)+1)
	for _, p := range products {
		if !containsFold(categories, p.Category) {
			categories = append(categories, p.Category)
		}
	}
	categories = append(categories, domain.CategoryUncategorized)
	slices.Sort(categories)

	return domain.Snapshot{
		Products:   products,
		Stores:     stores,
		Invoices:   invoices,
		Settings:   domain.AppSettings{MinStock: 10, USDRate: 13500},
		Categories: categories,
	}
}
