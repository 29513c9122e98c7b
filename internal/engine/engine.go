// Package engine owns the canonical dataset of the application: products,
// client stores, invoices, settings and the category set. Every mutation
// goes through it, so cross-entity invariants (stock levels, invoice
// status, category integrity) are enforced in exactly one place.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"souqpos/internal/domain"
	"souqpos/internal/kv"
	"souqpos/internal/xid"
)

// SnapshotKey is the fixed key the dataset is persisted under. The stored
// value is the snapshot JSON, shaped exactly as domain.Snapshot.
const SnapshotKey = "pos-v2-data"

var (
	// ErrProductInUse refuses product deletion while any invoice still
	// references the product in its items.
	ErrProductInUse = errors.New("product is used by existing invoices")

	// ErrSentinelCategory refuses deletion of the fallback category.
	ErrSentinelCategory = errors.New("fallback category cannot be deleted")

	// ErrInvalidImport rejects an import payload that is unparsable or
	// missing one of the five required top-level keys.
	ErrInvalidImport = errors.New("invalid import payload")
)

// SaveFunc persists a snapshot after a successful state transition. It is
// injected so the engine itself stays free of I/O concerns.
type SaveFunc func(ctx context.Context, snapshot domain.Snapshot) error

type Engine struct {
	mu      sync.RWMutex
	data    domain.Snapshot
	save    SaveFunc
	saveErr error
}

// New builds an engine over the given snapshot. save may be nil.
func New(data domain.Snapshot, save SaveFunc) *Engine {
	return &Engine{data: normalize(data), save: save}
}

// Open restores the engine from store, falling back to the seed dataset
// when nothing is stored or the stored value is malformed. The fallback is
// silent recovery, not an error: a corrupt blob is simply discarded.
func Open(ctx context.Context, store kv.KV) *Engine {
	save := func(ctx context.Context, snapshot domain.Snapshot) error {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		return store.Set(ctx, SnapshotKey, string(payload))
	}

	raw, ok, err := store.Get(ctx, SnapshotKey)
	if err != nil {
		log.Printf("[engine] load failed (%v), using seed dataset", err)
		return New(Seed(), save)
	}
	if !ok {
		return New(Seed(), save)
	}

	var data domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		log.Printf("[engine] discarding malformed stored snapshot: %v", err)
		return New(Seed(), save)
	}
	return New(data, save)
}

// Snapshot returns a deep copy of the current dataset.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return cloneSnapshot(e.data)
}

// SaveError reports the outcome of the most recent persistence write. A
// non-nil value means in-memory state and the stored blob have diverged
// until the next successful write.
func (e *Engine) SaveError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.saveErr
}

func (e *Engine) AddProduct(ctx context.Context, req domain.ProductCreateRequest) domain.Product {
	e.mu.Lock()
	defer e.mu.Unlock()

	product := domain.Product{
		ID:       xid.New("p"),
		Name:     req.Name,
		Price:    req.Price,
		Stock:    req.Stock,
		Category: req.Category,
		ImageURL: req.ImageURL,
	}
	e.data.Products = append(e.data.Products, product)
	e.registerCategoryLocked(product.Category)
	e.persistLocked(ctx)
	return product
}

// UpdateProduct replaces the matching-id entry wholesale. An unknown id is
// a silent no-op.
func (e *Engine) UpdateProduct(ctx context.Context, product domain.Product) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.data.Products {
		if e.data.Products[i].ID == product.ID {
			e.data.Products[i] = product
			e.registerCategoryLocked(product.Category)
			e.persistLocked(ctx)
			return
		}
	}
}

// DeleteProduct refuses, without mutating, while any invoice item still
// references the product. The error names the offending invoices so the
// caller can display them.
func (e *Engine) DeleteProduct(ctx context.Context, productID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var using []string
	for _, invoice := range e.data.Invoices {
		for _, item := range invoice.Items {
			if item.ProductID == productID {
				using = append(using, invoice.InvoiceNumber)
				break
			}
		}
	}
	if len(using) > 0 {
		return fmt.Errorf("%w: %s", ErrProductInUse, strings.Join(using, ", "))
	}

	for i := range e.data.Products {
		if e.data.Products[i].ID == productID {
			e.data.Products = slices.Delete(e.data.Products, i, i+1)
			e.persistLocked(ctx)
			return nil
		}
	}
	return nil
}

// AddCategory trims the name and inserts it unless it is empty or already
// present (case-insensitively). The returned flag reports whether the set
// changed.
func (e *Engine) AddCategory(ctx context.Context, name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	trimmed := strings.TrimSpace(name)
	if trimmed == "" || containsFold(e.data.Categories, trimmed) {
		return false
	}
	e.data.Categories = append(e.data.Categories, trimmed)
	slices.Sort(e.data.Categories)
	e.persistLocked(ctx)
	return true
}

// DeleteCategory reassigns every product in the category to the sentinel
// and removes the name from the set. Deleting the sentinel itself is
// refused inside the engine, not just at the presentation layer.
func (e *Engine) DeleteCategory(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if name == domain.CategoryUncategorized {
		return ErrSentinelCategory
	}

	changed := false
	for i := range e.data.Products {
		if e.data.Products[i].Category == name {
			e.data.Products[i].Category = domain.CategoryUncategorized
			changed = true
		}
	}
	for i := range e.data.Categories {
		if e.data.Categories[i] == name {
			e.data.Categories = slices.Delete(e.data.Categories, i, i+1)
			changed = true
			break
		}
	}
	if changed {
		e.persistLocked(ctx)
	}
	return nil
}

func (e *Engine) AddStore(ctx context.Context, req domain.StoreCreateRequest) domain.Store {
	e.mu.Lock()
	defer e.mu.Unlock()

	store := domain.Store{
		ID:       xid.New("s"),
		Name:     req.Name,
		Location: req.Location,
		Owner:    req.Owner,
		Phone:    req.Phone,
	}
	e.data.Stores = append(e.data.Stores, store)
	e.persistLocked(ctx)
	return store
}

// DeleteStore cascades: every invoice of the store has its item quantities
// restored to product stock, then the invoices and the store are removed.
func (e *Engine) DeleteStore(ctx context.Context, storeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	found := false
	kept := make([]domain.Invoice, 0, len(e.data.Invoices))
	for _, invoice := range e.data.Invoices {
		if invoice.StoreID != storeID {
			kept = append(kept, invoice)
			continue
		}
		e.restoreStockLocked(invoice.Items)
		found = true
	}
	e.data.Invoices = kept

	for i := range e.data.Stores {
		if e.data.Stores[i].ID == storeID {
			e.data.Stores = slices.Delete(e.data.Stores, i, i+1)
			found = true
			break
		}
	}
	if found {
		e.persistLocked(ctx)
	}
}

func (e *Engine) UpdateSettings(ctx context.Context, settings domain.AppSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.data.Settings = settings
	e.persistLocked(ctx)
}

// AddInvoice assigns the id and the next sequential invoice number,
// decrements stock for each item and prepends the invoice. The caller is
// expected to have validated the store and a non-empty item list.
func (e *Engine) AddInvoice(ctx context.Context, req domain.InvoiceCreateRequest) domain.Invoice {
	e.mu.Lock()
	defer e.mu.Unlock()

	invoice := domain.Invoice{
		ID:            xid.New("i"),
		InvoiceNumber: fmt.Sprintf("INV-%03d", len(e.data.Invoices)+1),
		StoreID:       req.StoreID,
		Items:         slices.Clone(req.Items),
		TotalAmount:   req.TotalAmount,
		Date:          req.Date,
		Status:        req.Status,
		Payments:      slices.Clone(req.Payments),
	}
	if invoice.Items == nil {
		invoice.Items = []domain.InvoiceItem{}
	}
	if invoice.Payments == nil {
		invoice.Payments = []domain.Payment{}
	}
	if invoice.Status == "" {
		totalPaid := 0.0
		for _, payment := range invoice.Payments {
			totalPaid += payment.Amount
		}
		invoice.Status = statusFor(totalPaid, invoice.TotalAmount)
	}

	for _, item := range invoice.Items {
		for i := range e.data.Products {
			if e.data.Products[i].ID == item.ProductID {
				e.data.Products[i].Stock -= item.Quantity
				break
			}
		}
	}

	e.data.Invoices = append([]domain.Invoice{invoice}, e.data.Invoices...)
	e.persistLocked(ctx)
	return cloneInvoice(invoice)
}

// UpdateInvoice replaces the matching-id entry verbatim. Stock is not
// recalculated; item snapshots are immutable by contract.
func (e *Engine) UpdateInvoice(ctx context.Context, invoice domain.Invoice) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.data.Invoices {
		if e.data.Invoices[i].ID == invoice.ID {
			e.data.Invoices[i] = cloneInvoice(invoice)
			e.persistLocked(ctx)
			return
		}
	}
}

// DeleteInvoice restores the item quantities to product stock and removes
// the invoice. An unknown id is a silent no-op.
func (e *Engine) DeleteInvoice(ctx context.Context, invoiceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.data.Invoices {
		if e.data.Invoices[i].ID != invoiceID {
			continue
		}
		e.restoreStockLocked(e.data.Invoices[i].Items)
		e.data.Invoices = slices.Delete(e.data.Invoices, i, i+1)
		e.persistLocked(ctx)
		return
	}
}

// AddPayment appends a payment with a generated id and the current date,
// then re-derives the invoice status from the paid total. Stock is never
// touched by payment events. An unknown invoice id is a silent no-op.
func (e *Engine) AddPayment(ctx context.Context, invoiceID string, req domain.PaymentRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.data.Invoices {
		invoice := &e.data.Invoices[i]
		if invoice.ID != invoiceID {
			continue
		}
		invoice.Payments = append(invoice.Payments, domain.Payment{
			ID:     xid.New("pay"),
			Amount: req.Amount,
			Date:   time.Now().UTC().Format("2006-01-02"),
			Method: req.Method,
		})
		totalPaid := 0.0
		for _, payment := range invoice.Payments {
			totalPaid += payment.Amount
		}
		invoice.Status = statusFor(totalPaid, invoice.TotalAmount)
		e.persistLocked(ctx)
		return
	}
}

// Export serializes the snapshot as pretty-printed JSON and returns the
// download filename, suffixed with the current ISO date.
func (e *Engine) Export() ([]byte, string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	payload, err := json.MarshalIndent(e.data, "", "  ")
	if err != nil {
		return nil, "", err
	}
	name := fmt.Sprintf("pos-data-%s.json", time.Now().UTC().Format("2006-01-02"))
	return payload, name, nil
}

// Import validates that the payload parses and carries all five top-level
// keys, then replaces the snapshot wholesale. There is no partial or merge
// import: a rejected payload leaves the snapshot untouched.
func (e *Engine) Import(ctx context.Context, raw []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	for _, required := range []string{"products", "stores", "invoices", "settings", "categories"} {
		if _, ok := keys[required]; !ok {
			return fmt.Errorf("%w: missing required key %q", ErrInvalidImport, required)
		}
	}

	var data domain.Snapshot
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.data = normalize(data)
	e.persistLocked(ctx)
	return nil
}

// registerCategoryLocked auto-creates the category on product save if it
// is non-empty and not already present case-insensitively.
func (e *Engine) registerCategoryLocked(name string) {
	if name == "" || containsFold(e.data.Categories, name) {
		return
	}
	e.data.Categories = append(e.data.Categories, name)
	slices.Sort(e.data.Categories)
}

// restoreStockLocked returns previously deducted quantities to product
// stock. Items referencing a deleted product are skipped softly.
func (e *Engine) restoreStockLocked(items []domain.InvoiceItem) {
	for _, item := range items {
		for i := range e.data.Products {
			if e.data.Products[i].ID == item.ProductID {
				e.data.Products[i].Stock += item.Quantity
				break
			}
		}
	}
}

// persistLocked runs the injected save callback after a successful state
// transition. A failed write is reported, never rolled back: the in-memory
// snapshot stays authoritative until the next successful write.
func (e *Engine) persistLocked(ctx context.Context) {
	if e.save == nil {
		return
	}
	if err := e.save(ctx, cloneSnapshot(e.data)); err != nil {
		e.saveErr = err
		log.Printf("[engine] persistence write failed: %v", err)
		return
	}
	e.saveErr = nil
}

func statusFor(totalPaid float64, totalAmount float64) string {
	switch {
	case totalPaid >= totalAmount:
		return domain.InvoiceStatusPaid
	case totalPaid > 0:
		return domain.InvoiceStatusPartial
	default:
		return domain.InvoiceStatusUnpaid
	}
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// normalize guarantees non-nil collections and the presence of the
// sentinel category, keeping the persisted JSON shape stable.
func normalize(data domain.Snapshot) domain.Snapshot {
	if data.Products == nil {
		data.Products = []domain.Product{}
	}
	if data.Stores == nil {
		data.Stores = []domain.Store{}
	}
	if data.Invoices == nil {
		data.Invoices = []domain.Invoice{}
	}
	if !containsFold(data.Categories, domain.CategoryUncategorized) {
		data.Categories = append(data.Categories, domain.CategoryUncategorized)
	}
	slices.Sort(data.Categories)
	return data
}

func cloneSnapshot(src domain.Snapshot) domain.Snapshot {
	dup := src
	dup.Products = slices.Clone(src.Products)
	dup.Stores = slices.Clone(src.Stores)
	dup.Categories = slices.Clone(src.Categories)
	dup.Invoices = make([]domain.Invoice, len(src.Invoices))
	for i, invoice := range src.Invoices {
		dup.Invoices[i] = cloneInvoice(invoice)
	}
	return dup
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.Payments = slices.Clone(src.Payments)
	return dup
}
