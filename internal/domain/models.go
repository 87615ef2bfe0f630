package domain

import "time"

type TaxMode string

const (
	TaxModeInclusive TaxMode = "inclusive"
	TaxModeExclusive TaxMode = "exclusive"
)

type TicketStatus string

const (
	TicketStatusActive     TicketStatus = "active"
	TicketStatusProcessing TicketStatus = "processing"
	TicketStatusCompleted  TicketStatus = "completed"
)

type CheckoutStage string

const (
	StageBrowsing          CheckoutStage = "browsing"
	StagePreviewingBill    CheckoutStage = "previewing_bill"
	StageCollectingPayment CheckoutStage = "collecting_payment"
	StageCompleted         CheckoutStage = "completed"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountAmount  DiscountType = "amount"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentUPI    PaymentMethod = "upi"
	PaymentCard   PaymentMethod = "card"
	PaymentCredit PaymentMethod = "credit"
)

type ShareChannel string

const (
	ShareNone     ShareChannel = "none"
	ShareWhatsApp ShareChannel = "whatsapp"
	ShareSMS      ShareChannel = "sms"
	SharePrint    ShareChannel = "print"
)

const (
	EventSaleRecorded = "sale.recorded"
	EventSaleFailed   = "sale.failed"
	EventShareLink    = "share.link"
	EventSharePrinted = "share.printed"
	EventShareFailed  = "share.failed"
)

type CatalogItem struct {
	ID             string  `json:"id"`
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	SellingPrice   float64 `json:"sellingPrice"`
	TaxRatePercent float64 `json:"taxRatePercent"`
	TaxMode        TaxMode `json:"taxMode,omitempty"`
	Stock          int     `json:"stock"`
	Unit           string  `json:"unit"`
}

type CartLine struct {
	ID               string   `json:"id"`
	CatalogItemID    string   `json:"catalogItemId"`
	Name             string   `json:"name"`
	UnitPriceExclTax float64  `json:"unitPriceExclTax"`
	Quantity         int      `json:"quantity"`
	TaxRatePercent   float64  `json:"taxRatePercent"`
	TaxAmount        float64  `json:"taxAmount"`
	Unit             string   `json:"unit"`
	DiscountPercent  *float64 `json:"discountPercent,omitempty"`
}

type InvoiceDiscount struct {
	Type  DiscountType `json:"type"`
	Value float64      `json:"value"`
}

type Ticket struct {
	ID                string          `json:"id"`
	TokenNumber       int             `json:"tokenNumber"`
	CustomerName      string          `json:"customerName"`
	CustomerPhone     string          `json:"customerPhone,omitempty"`
	CustomerID        string          `json:"customerId,omitempty"`
	CustomerStateCode string          `json:"customerStateCode,omitempty"`
	Lines             []CartLine      `json:"lines"`
	Status            TicketStatus    `json:"status"`
	IsInCheckout      bool            `json:"isInCheckout"`
	Discount          InvoiceDiscount `json:"discount"`
	CreatedAt         time.Time       `json:"createdAt"`
	LastUpdated       time.Time       `json:"lastUpdated"`
}

// TicketBook is the persisted ticket list of one terminal.
type TicketBook struct {
	TerminalID     string    `json:"terminalId"`
	Tickets        []Ticket  `json:"tickets"`
	ActiveTicketID string    `json:"activeTicketId"`
	LastToken      int       `json:"lastToken"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type SessionRecord struct {
	SessionID     string        `json:"sessionId"`
	TerminalID    string        `json:"terminalId"`
	Cart          []CartLine    `json:"cart"`
	CustomerID    string        `json:"customerId,omitempty"`
	CustomerName  string        `json:"customerName"`
	CustomerPhone string        `json:"customerPhone"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastUpdated   time.Time     `json:"lastUpdated"`
}

type SessionSummary struct {
	ID         string    `json:"id"`
	TerminalID string    `json:"terminalId"`
	ShortID    string    `json:"shortId"`
	ItemCount  int       `json:"itemCount"`
	Total      float64   `json:"total"`
	CreatedAt  time.Time `json:"createdAt"`
}

type DraftCustomer struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	IsWalkIn bool   `json:"isWalkIn"`
}

type DraftPayment struct {
	Method         PaymentMethod `json:"method"`
	Amount         float64       `json:"amount"`
	ReceivedAmount *float64      `json:"receivedAmount,omitempty"`
	ChangeAmount   *float64      `json:"changeAmount,omitempty"`
	TransactionID  string        `json:"transactionId,omitempty"`
}

type DraftDiscount struct {
	Type           DiscountType `json:"type"`
	Value          float64      `json:"value"`
	DiscountAmount float64      `json:"discountAmount"`
}

type TaxBreakdown struct {
	CGST       float64 `json:"cgst"`
	SGST       float64 `json:"sgst"`
	IGST       float64 `json:"igst"`
	Interstate bool    `json:"interstate"`
}

// CheckoutDraft is the immutable snapshot of a completed sale handed to the
// sale recorder.
type CheckoutDraft struct {
	BillNumber  string        `json:"billNumber"`
	TerminalID  string        `json:"terminalId"`
	TokenNumber int           `json:"tokenNumber"`
	Customer    DraftCustomer `json:"customer"`
	Payment     DraftPayment  `json:"payment"`
	Discount    DraftDiscount `json:"discount"`
	Subtotal    float64       `json:"subtotal"`
	TotalTax    float64       `json:"totalTax"`
	Tax         TaxBreakdown  `json:"tax"`
	RoundOff    float64       `json:"roundOff"`
	GrandTotal  float64       `json:"grandTotal"`
	Items       []CartLine    `json:"items"`
	CreatedAt   time.Time     `json:"createdAt"`
}

type CompanyProfile struct {
	Name      string `json:"name"`
	GSTIN     string `json:"gstin,omitempty"`
	StateCode string `json:"stateCode"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}

type TaxConfig struct {
	DefaultTaxMode  TaxMode `json:"defaultTaxMode"`
	SellerStateCode string  `json:"sellerStateCode"`
	RoundOffTotals  bool    `json:"roundOffTotals"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	GSTIN     string    `json:"gstin,omitempty"`
	StateCode string    `json:"stateCode,omitempty"`
	PartyType string    `json:"partyType"`
	CreatedAt time.Time `json:"createdAt"`
}

type CustomerCreateRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	GSTIN     string `json:"gstin,omitempty"`
	StateCode string `json:"stateCode,omitempty"`
	PartyType string `json:"partyType,omitempty"`
}

// CustomerBinding attaches a (possibly walk-in) customer to the active ticket.
type CustomerBinding struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	StateCode string `json:"stateCode,omitempty"`
}

type TerminalEvent struct {
	Kind       string    `json:"kind"`
	TerminalID string    `json:"terminalId"`
	BillNumber string    `json:"billNumber,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}

type ShareDelivery struct {
	Channel ShareChannel `json:"channel"`
	URL     string       `json:"url,omitempty"`
	Text    string       `json:"text"`
}

type FailedSale struct {
	BillNumber string        `json:"billNumber"`
	TerminalID string        `json:"terminalId"`
	Draft      CheckoutDraft `json:"draft"`
	Error      string        `json:"error"`
	Attempts   int           `json:"attempts"`
	FailedAt   time.Time     `json:"failedAt"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
}

type ReconcileRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	Terminals   []string `json:"terminals,omitempty"`
	ExpiresAt   string   `json:"expires_at"`
}

// Actor is the signed-in user behind a request. Terminals lists the
// counters a cashier is assigned to; empty means any.
type Actor struct {
	Username  string
	Role      string
	Terminals []string
}

type CashierCreateRequest struct {
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Terminals []string `json:"terminals,omitempty"`
}

type TerminalAssignmentRequest struct {
	Terminals []string `json:"terminals"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	Terminals []string  `json:"terminals"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	Terminals []string
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	TerminalID    string    `json:"terminal_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
