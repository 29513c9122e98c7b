package domain

// Product is a catalog entry. Stock is adjusted only by invoice lifecycle
// events, never by payments.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Category string  `json:"category"`
	ImageURL string  `json:"imageUrl,omitempty"`
}

type ProductCreateRequest struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Category string  `json:"category"`
	ImageURL string  `json:"imageUrl,omitempty"`
}

// Store is a client store carrying a running balance derived from its
// invoices and payments.
type Store struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Owner    string `json:"owner"`
	Phone    string `json:"phone"`
}

type StoreCreateRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Owner    string `json:"owner"`
	Phone    string `json:"phone"`
}

// InvoiceItem snapshots the product price at invoice-creation time. The
// price is immutable afterward even if the product's price changes.
type InvoiceItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type Payment struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
	Date   string  `json:"date"`
	Method string  `json:"method"`
}

type PaymentRequest struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
}

type Invoice struct {
	ID            string        `json:"id"`
	InvoiceNumber string        `json:"invoiceNumber"`
	StoreID       string        `json:"storeId"`
	Items         []InvoiceItem `json:"items"`
	TotalAmount   float64       `json:"totalAmount"`
	Date          string        `json:"date"`
	Status        string        `json:"status"`
	Payments      []Payment     `json:"payments"`
}

// InvoiceCreateRequest carries everything but the engine-assigned id and
// sequential invoice number.
type InvoiceCreateRequest struct {
	StoreID     string        `json:"storeId"`
	Items       []InvoiceItem `json:"items"`
	TotalAmount float64       `json:"totalAmount"`
	Date        string        `json:"date"`
	Status      string        `json:"status"`
	Payments    []Payment     `json:"payments"`
}

// AppSettings holds the global thresholds: MinStock gates low-stock
// reporting, USDRate is the divisor for the secondary currency display.
type AppSettings struct {
	MinStock int     `json:"minStock"`
	USDRate  float64 `json:"usdRate"`
}

// Snapshot is the complete dataset at a point in time. Its JSON shape is
// the persisted-state layout: all five keys are required on import.
type Snapshot struct {
	Products   []Product   `json:"products"`
	Stores     []Store     `json:"stores"`
	Invoices   []Invoice   `json:"invoices"`
	Settings   AppSettings `json:"settings"`
	Categories []string    `json:"categories"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// RolePermission is display-only: roles are never enforced by the API.
type RolePermission struct {
	Role   string `json:"role"`
	Access string `json:"access"`
}

const (
	InvoiceStatusPaid    = "paid"
	InvoiceStatusUnpaid  = "unpaid"
	InvoiceStatusPartial = "partial"
)

const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

// CategoryUncategorized is the sentinel category. It always exists and
// cannot be deleted; products in a deleted category fall back to it.
const CategoryUncategorized = "Uncategorized"

const (
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
	RoleAccountant = "accountant"
)
