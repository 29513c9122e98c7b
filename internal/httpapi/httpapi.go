package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"souqpos/internal/domain"
	"souqpos/internal/engine"
	"souqpos/internal/prefs"
	"souqpos/internal/reports"
)

type API struct {
	engine        *engine.Engine
	prefs         *prefs.Store
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(eng *engine.Engine, preferences *prefs.Store, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		engine:        eng,
		prefs:         preferences,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/permissions", a.requireAuth(a.handlePermissions))
	mux.HandleFunc("/api/v1/snapshot", a.requireAuth(a.handleSnapshot))
	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions))
	mux.HandleFunc("/api/v1/categories", a.requireAuth(a.handleCategories))
	mux.HandleFunc("/api/v1/categories/", a.requireAuth(a.handleCategoryActions))
	mux.HandleFunc("/api/v1/stores", a.requireAuth(a.handleStores))
	mux.HandleFunc("/api/v1/stores/", a.requireAuth(a.handleStoreActions))
	mux.HandleFunc("/api/v1/settings", a.requireAuth(a.handleSettings))
	mux.HandleFunc("/api/v1/invoices", a.requireAuth(a.handleInvoices))
	mux.HandleFunc("/api/v1/invoices/", a.requireAuth(a.handleInvoiceActions))
	mux.HandleFunc("/api/v1/export", a.requireAuth(a.handleExport))
	mux.HandleFunc("/api/v1/import", a.requireAuth(a.handleImport))
	mux.HandleFunc("/api/v1/reports/summary", a.requireAuth(a.handleReportSummary))
	mux.HandleFunc("/api/v1/reports/best-selling", a.requireAuth(a.handleReportBestSelling))
	mux.HandleFunc("/api/v1/reports/debtors", a.requireAuth(a.handleReportDebtors))
	mux.HandleFunc("/api/v1/reports/low-stock", a.requireAuth(a.handleReportLowStock))
	mux.HandleFunc("/api/v1/preferences", a.requireAuth(a.handlePreferences))
	mux.HandleFunc("/api/v1/preferences/", a.requireAuth(a.handlePreferenceActions))

	return a.withMiddleware(mux)
}

// requireAuth checks for a valid bearer token. It deliberately ignores the
// token's role: the permission matrix is display-only and every
// authenticated account may perform every operation.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		if _, err := a.auth.ParseToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	body := map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.engine.SaveError(); err != nil {
		body["storage_warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": []domain.RolePermission{
			{Role: domain.RoleAdmin, Access: "full access"},
			{Role: domain.RoleAgent, Access: "invoice management"},
			{Role: domain.RoleAccountant, Access: "view reports"},
		},
	})
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"products": a.engine.Snapshot().Products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, errors.New("product name is required"))
			return
		}
		product := a.engine.AddProduct(r.Context(), req)
		writeJSON(w, http.StatusCreated, product)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimPrefix(r.URL.Path, "/api/v1/products/")
	if productID == "" || strings.Contains(productID, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown product path"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var product domain.Product
		if err := decodeJSON(r, &product); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product.ID = productID
		a.engine.UpdateProduct(r.Context(), product)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := a.engine.DeleteProduct(r.Context(), productID); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"categories": a.engine.Snapshot().Categories})
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		added := a.engine.AddCategory(r.Context(), req.Name)
		writeJSON(w, http.StatusOK, map[string]any{"added": added})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCategoryActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/categories/")
	name, err := url.PathUnescape(raw)
	if err != nil || name == "" {
		writeError(w, http.StatusNotFound, errors.New("unknown category path"))
		return
	}

	if err := a.engine.DeleteCategory(r.Context(), name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStores(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"stores": a.engine.Snapshot().Stores})
	case http.MethodPost:
		var req domain.StoreCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, errors.New("store name is required"))
			return
		}
		store := a.engine.AddStore(r.Context(), req)
		writeJSON(w, http.StatusCreated, store)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleStoreActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	storeID := strings.TrimPrefix(r.URL.Path, "/api/v1/stores/")
	if storeID == "" || strings.Contains(storeID, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown store path"))
		return
	}

	a.engine.DeleteStore(r.Context(), storeID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.engine.Snapshot().Settings)
	case http.MethodPut:
		var settings domain.AppSettings
		if err := decodeJSON(r, &settings); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.engine.UpdateSettings(r.Context(), settings)
		writeJSON(w, http.StatusOK, settings)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"invoices": a.engine.Snapshot().Invoices})
	case http.MethodPost:
		var req domain.InvoiceCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// The engine trusts its caller on these two; validate here.
		if strings.TrimSpace(req.StoreID) == "" {
			writeError(w, http.StatusBadRequest, errors.New("storeId is required"))
			return
		}
		if len(req.Items) == 0 {
			writeError(w, http.StatusBadRequest, errors.New("invoice needs at least one item"))
			return
		}
		invoice := a.engine.AddInvoice(r.Context(), req)
		writeJSON(w, http.StatusCreated, invoice)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInvoiceActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/invoices/")
	invoiceID, sub, _ := strings.Cut(rest, "/")
	if invoiceID == "" {
		writeError(w, http.StatusNotFound, errors.New("unknown invoice path"))
		return
	}

	if sub == "payments" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.PaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Method != domain.PaymentMethodCash && req.Method != domain.PaymentMethodCard {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown payment method %q", req.Method))
			return
		}
		a.engine.AddPayment(r.Context(), invoiceID, req)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if sub != "" {
		writeError(w, http.StatusNotFound, errors.New("unknown invoice path"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var invoice domain.Invoice
		if err := decodeJSON(r, &invoice); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		invoice.ID = invoiceID
		a.engine.UpdateInvoice(r.Context(), invoice)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		a.engine.DeleteInvoice(r.Context(), invoiceID)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	payload, filename, err := a.engine.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.engine.Import(r.Context(), raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": true})
}

func (a *API) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, reports.Summarize(a.engine.Snapshot()))
}

func (a *API) handleReportBestSelling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": reports.BestSelling(a.engine.Snapshot())})
}

func (a *API) handleReportDebtors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debtors": reports.TopDebtors(a.engine.Snapshot())})
}

func (a *API) handleReportLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	snapshot := a.engine.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"minStock": snapshot.Settings.MinStock,
		"products": reports.LowStock(snapshot),
	})
}

func (a *API) handlePreferences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.prefs.Load(r.Context()))
}

func (a *API) handlePreferenceActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/preferences/")
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.prefs.Set(r.Context(), name, req.Value); err != nil {
		if errors.Is(err, prefs.ErrUnknownPreference) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, a.prefs.Load(r.Context()))
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic message so internal details never leak;
	// 4xx messages are user-facing and returned as-is.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
