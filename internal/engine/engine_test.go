package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"souqpos/internal/domain"
	"souqpos/internal/kv"
)

func newTestEngine() *Engine {
	return New(Seed(), nil)
}

func findProduct(t *testing.T, e *Engine, id string) domain.Product {
	t.Helper()
	for _, p := range e.Snapshot().Products {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("product %s not found", id)
	return domain.Product{}
}

func findInvoice(t *testing.T, e *Engine, id string) domain.Invoice {
	t.Helper()
	for _, inv := range e.Snapshot().Invoices {
		if inv.ID == id {
			return inv
		}
	}
	t.Fatalf("invoice %s not found", id)
	return domain.Invoice{}
}

func TestAddProductRegistersCategory(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	p := e.AddProduct(ctx, domain.ProductCreateRequest{
		Name:     "Rose Water",
		Price:    9000,
		Stock:    40,
		Category: "Essences",
	})
	if p.ID == "" || !strings.HasPrefix(p.ID, "p") {
		t.Fatalf("expected generated product id with p prefix, got %q", p.ID)
	}

	categories := e.Snapshot().Categories
	found := false
	for _, c := range categories {
		if c == "Essences" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Essences in categories, got %v", categories)
	}
}

func TestAddInvoiceDecrementsStockAndNumbersSequentially(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	before := findProduct(t, e, "p1").Stock
	inv := e.AddInvoice(ctx, domain.InvoiceCreateRequest{
		StoreID: "s1",
		Items: []domain.InvoiceItem{
			{ProductID: "p1", Quantity: 10, Price: 14500},
		},
		TotalAmount: 145000,
	})

	if inv.InvoiceNumber != "INV-004" {
		t.Fatalf("expected INV-004 after three seeded invoices, got %s", inv.InvoiceNumber)
	}
	if inv.Status != domain.InvoiceStatusUnpaid {
		t.Fatalf("new invoice should start unpaid, got %s", inv.Status)
	}
	if got := findProduct(t, e, "p1").Stock; got != before-10 {
		t.Fatalf("expected stock %d, got %d", before-10, got)
	}

	invoices := e.Snapshot().Invoices
	if invoices[0].ID != inv.ID {
		t.Fatalf("expected newest invoice first, got %s", invoices[0].ID)
	}
}

func TestDeleteInvoiceRestoresStock(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	before := findProduct(t, e, "p2").Stock
	inv := e.AddInvoice(ctx, domain.InvoiceCreateRequest{
		StoreID:     "s2",
		Items:       []domain.InvoiceItem{{ProductID: "p2", Quantity: 7, Price: 25000}},
		TotalAmount: 175000,
	})
	if got := findProduct(t, e, "p2").Stock; got != before-7 {
		t.Fatalf("expected stock %d after sale, got %d", before-7, got)
	}

	e.DeleteInvoice(ctx, inv.ID)
	if got := findProduct(t, e, "p2").Stock; got != before {
		t.Fatalf("expected stock restored to %d, got %d", before, got)
	}
	for _, remaining := range e.Snapshot().Invoices {
		if remaining.ID == inv.ID {
			t.Fatalf("invoice %s should be gone", inv.ID)
		}
	}
}

func TestDeleteInvoiceUnknownIDIsNoOp(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	before := e.Snapshot()
	e.DeleteInvoice(ctx, "no-such-invoice")
	if !reflect.DeepEqual(before, e.Snapshot()) {
		t.Fatalf("deleting an unknown invoice must not change state")
	}
}

func TestDeleteStoreRestocksAllItsInvoices(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	// s1 owns the seeded INV-001 (p1 x10, p3 x20).
	p1Before := findProduct(t, e, "p1").Stock
	p3Before := findProduct(t, e, "p3").Stock

	e.DeleteStore(ctx, "s1")

	if got := findProduct(t, e, "p1").Stock; got != p1Before+10 {
		t.Fatalf("expected p1 stock %d, got %d", p1Before+10, got)
	}
	if got := findProduct(t, e, "p3").Stock; got != p3Before+20 {
		t.Fatalf("expected p3 stock %d, got %d", p3Before+20, got)
	}
	for _, s := range e.Snapshot().Stores {
		if s.ID == "s1" {
			t.Fatalf("store s1 should be gone")
		}
	}
	for _, inv := range e.Snapshot().Invoices {
		if inv.StoreID == "s1" {
			t.Fatalf("invoice %s of deleted store should be gone", inv.ID)
		}
	}
}

func TestDeleteProductRefusedWhenReferenced(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	err := e.DeleteProduct(ctx, "p1")
	if !errors.Is(err, ErrProductInUse) {
		t.Fatalf("expected ErrProductInUse, got %v", err)
	}
	if !strings.Contains(err.Error(), "INV-001") {
		t.Fatalf("error should name the referencing invoice, got %q", err.Error())
	}
	findProduct(t, e, "p1")
}

func TestDeleteProductUnreferencedSucceeds(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	p := e.AddProduct(ctx, domain.ProductCreateRequest{Name: "Spare", Price: 1000, Stock: 1, Category: "Oils"})
	if err := e.DeleteProduct(ctx, p.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	for _, remaining := range e.Snapshot().Products {
		if remaining.ID == p.ID {
			t.Fatalf("product %s should be gone", p.ID)
		}
	}
}

func TestAddPaymentDerivesStatus(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	// Seeded INV-003 (i3) totals 220000 with no payments.
	e.AddPayment(ctx, "i3", domain.PaymentRequest{Amount: 100000, Method: domain.PaymentMethodCash})
	if got := findInvoice(t, e, "i3").Status; got != domain.InvoiceStatusPartial {
		t.Fatalf("expected partial after first payment, got %s", got)
	}

	e.AddPayment(ctx, "i3", domain.PaymentRequest{Amount: 120000, Method: domain.PaymentMethodCard})
	inv := findInvoice(t, e, "i3")
	if inv.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected paid after full payment, got %s", inv.Status)
	}
	if len(inv.Payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(inv.Payments))
	}
	if !strings.HasPrefix(inv.Payments[0].ID, "pay") {
		t.Fatalf("expected pay-prefixed payment id, got %q", inv.Payments[0].ID)
	}
}

func TestUpdateInvoiceDoesNotTouchStock(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	before := findProduct(t, e, "p2").Stock
	inv := findInvoice(t, e, "i2")
	inv.Items = []domain.InvoiceItem{{ProductID: "p2", Quantity: 99, Price: 25000}}
	e.UpdateInvoice(ctx, inv)

	if got := findProduct(t, e, "p2").Stock; got != before {
		t.Fatalf("updating an invoice must not change stock, got %d want %d", got, before)
	}
	if got := findInvoice(t, e, "i2").Items[0].Quantity; got != 99 {
		t.Fatalf("expected updated invoice items to stick, got qty %d", got)
	}
}

func TestAddCategoryDedupesCaseInsensitively(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	if added := e.AddCategory(ctx, "beverages"); added {
		t.Fatalf("case-insensitive duplicate should be rejected")
	}
	if added := e.AddCategory(ctx, "  "); added {
		t.Fatalf("blank category should be rejected")
	}
	if added := e.AddCategory(ctx, "Spices"); !added {
		t.Fatalf("new category should be accepted")
	}
}

func TestDeleteCategoryReassignsProducts(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	if err := e.DeleteCategory(ctx, "Beverages"); err != nil {
		t.Fatalf("delete category failed: %v", err)
	}
	for _, p := range e.Snapshot().Products {
		if p.Category == "Beverages" {
			t.Fatalf("product %s still in deleted category", p.ID)
		}
	}
	if got := findProduct(t, e, "p1").Category; got != domain.CategoryUncategorized {
		t.Fatalf("expected %s, got %s", domain.CategoryUncategorized, got)
	}
}

func TestDeleteCategoryRefusesFallback(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	if err := e.DeleteCategory(ctx, domain.CategoryUncategorized); !errors.Is(err, ErrSentinelCategory) {
		t.Fatalf("expected ErrSentinelCategory, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	e.AddProduct(ctx, domain.ProductCreateRequest{Name: "Zaatar", Price: 6000, Stock: 30, Category: "Spices"})
	want := e.Snapshot()

	payload, filename, err := e.Export()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.HasPrefix(filename, "pos-data-") || !strings.HasSuffix(filename, ".json") {
		t.Fatalf("unexpected export filename %q", filename)
	}

	fresh := New(Seed(), nil)
	if err := fresh.Import(ctx, payload); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !reflect.DeepEqual(want, fresh.Snapshot()) {
		t.Fatalf("round-tripped state differs from exported state")
	}
}

func TestImportRejectsMissingSections(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	before := e.Snapshot()
	partial := []byte(`{"products":[],"stores":[],"invoices":[],"settings":{"minStock":1,"usdRate":1}}`)
	if err := e.Import(ctx, partial); !errors.Is(err, ErrInvalidImport) {
		t.Fatalf("expected ErrInvalidImport for missing categories, got %v", err)
	}
	if err := e.Import(ctx, []byte("not json")); !errors.Is(err, ErrInvalidImport) {
		t.Fatalf("expected ErrInvalidImport for malformed payload, got %v", err)
	}
	if !reflect.DeepEqual(before, e.Snapshot()) {
		t.Fatalf("rejected import must leave state untouched")
	}
}

func TestSaveFailureKeepsStateAndSurfacesError(t *testing.T) {
	saveErr := errors.New("disk full")
	calls := 0
	e := New(Seed(), func(context.Context, domain.Snapshot) error {
		calls++
		if calls > 1 {
			return saveErr
		}
		return nil
	})
	ctx := context.Background()

	e.AddProduct(ctx, domain.ProductCreateRequest{Name: "First", Price: 1, Stock: 1, Category: "Oils"})
	if err := e.SaveError(); err != nil {
		t.Fatalf("first save should succeed, got %v", err)
	}

	p := e.AddProduct(ctx, domain.ProductCreateRequest{Name: "Second", Price: 1, Stock: 1, Category: "Oils"})
	if err := e.SaveError(); !errors.Is(err, saveErr) {
		t.Fatalf("expected retained save error, got %v", err)
	}
	// The mutation survives even though persistence failed.
	findProduct(t, e, p.ID)
}

func TestOpenSeedsWhenStoreEmptyOrCorrupt(t *testing.T) {
	ctx := context.Background()

	empty := engineStoreWith(map[string]string{})
	e := Open(ctx, empty)
	if len(e.Snapshot().Products) == 0 {
		t.Fatalf("expected seeded products on empty store")
	}

	corrupt := engineStoreWith(map[string]string{SnapshotKey: "{broken"})
	e = Open(ctx, corrupt)
	if len(e.Snapshot().Stores) == 0 {
		t.Fatalf("expected seeded stores on corrupt payload")
	}
}

func TestOpenLoadsExistingSnapshot(t *testing.T) {
	ctx := context.Background()

	snap := domain.Snapshot{
		Products:   []domain.Product{{ID: "px", Name: "Lone", Price: 5, Stock: 2, Category: "Misc"}},
		Stores:     []domain.Store{},
		Invoices:   []domain.Invoice{},
		Settings:   domain.AppSettings{MinStock: 3, USDRate: 100},
		Categories: []string{"Misc"},
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	store := engineStoreWith(map[string]string{SnapshotKey: string(raw)})
	e := Open(ctx, store)

	got := e.Snapshot()
	if len(got.Products) != 1 || got.Products[0].ID != "px" {
		t.Fatalf("expected stored products, got %+v", got.Products)
	}
	if got.Settings.MinStock != 3 {
		t.Fatalf("expected stored settings, got %+v", got.Settings)
	}

	// Mutations flow back into the key-value store.
	e.AddStore(ctx, domain.StoreCreateRequest{Name: "New Outlet"})
	value, ok, err := store.Get(ctx, SnapshotKey)
	if err != nil || !ok {
		t.Fatalf("expected persisted snapshot, ok=%v err=%v", ok, err)
	}
	if !strings.Contains(value, "New Outlet") {
		t.Fatalf("persisted payload missing new store: %s", value)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	e := newTestEngine()

	snap := e.Snapshot()
	snap.Products[0].Stock = -999
	snap.Invoices[0].Payments = nil

	if got := findProduct(t, e, snap.Products[0].ID).Stock; got == -999 {
		t.Fatalf("mutating a snapshot must not affect engine state")
	}
	if got := len(findInvoice(t, e, "i1").Payments); got != 1 {
		t.Fatalf("expected seeded payment to survive, got %d", got)
	}
}

func TestAddInvoiceSkipsMissingProducts(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	before := findProduct(t, e, "p1").Stock
	inv := e.AddInvoice(ctx, domain.InvoiceCreateRequest{
		StoreID: "s1",
		Items: []domain.InvoiceItem{
			{ProductID: "ghost", Quantity: 3, Price: 100},
			{ProductID: "p1", Quantity: 2, Price: 14500},
		},
		TotalAmount: 29300,
	})
	if got := findProduct(t, e, "p1").Stock; got != before-2 {
		t.Fatalf("expected known product decremented, got %d want %d", got, before-2)
	}
	if len(inv.Items) != 2 {
		t.Fatalf("unknown product line items are kept on the invoice, got %d", len(inv.Items))
	}
}

// engineStoreWith builds an in-memory kv.KV preloaded with entries.
func engineStoreWith(entries map[string]string) kv.KV {
	return &mapKV{entries: entries}
}

type mapKV struct {
	entries map[string]string
}

func (m *mapKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *mapKV) Set(_ context.Context, key, value string) error {
	if m.entries == nil {
		return fmt.Errorf("nil store")
	}
	m.entries[key] = value
	return nil
}
