// Package models defines the canonical invoice shape extracted from the
// accounting source and delivered to the webhook. The JSON field names are a
// public contract with downstream consumers.
package models

import (
	"time"

	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/json"
)

// Status is the normalized payment status of an invoice
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
)

// Invoice is the unit of extraction and delivery.
//
// LastModified is set by the source on every mutation and is the only field
// the watermark is computed against.
type Invoice struct {
	ID     string // source-system id, unique and immutable
	Number string // human-facing reference number, not unique

	CreatedAt    time.Time
	LastModified time.Time
	Date         time.Time
	DueDate      time.Time

	Subtotal  Money
	TaxAmount Money
	Amount    Money
	Balance   Money

	Customer  Customer
	LineItems []LineItem

	Memo   string
	Terms  string
	Status Status

	ExtractedAt time.Time
}

// Customer is the billed party
type Customer struct {
	Name        string   `json:"name,omitempty"`
	CompanyName string   `json:"companyName,omitempty"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Address     *Address `json:"address,omitempty"`
}

// Address is a postal address
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// LineItem is one invoice line. Amount is authoritative from the source.
type LineItem struct {
	Description string `json:"description,omitempty"`
	Quantity    Money  `json:"quantity"`
	UnitPrice   Money  `json:"unitPrice"`
	Amount      Money  `json:"amount"`
	ItemName    string `json:"itemName,omitempty"`
	ItemType    string `json:"itemType,omitempty"`
}

// Key returns the best identifier for log lines
func (inv *Invoice) Key() string {
	if inv.Number != "" {
		return inv.Number
	}
	return inv.ID
}

// Validate checks the invariants every invoice must satisfy before it may
// reach the delivery sink.
func (inv *Invoice) Validate() error {
	if inv.ID == "" {
		return errors.New(errors.ErrorTypeMalformedRecord, "invoice has no source id").
			WithDetail("invoice_number", inv.Number)
	}
	if inv.LastModified.IsZero() {
		return errors.New(errors.ErrorTypeMalformedRecord, "invoice has no last-modified timestamp").
			WithDetail("invoice_id", inv.ID).
			WithDetail("invoice_number", inv.Number)
	}
	return nil
}

// wireInvoice is the JSON representation. Optional timestamps are pointers
// so that zero values are omitted instead of rendered as year 1.
type wireInvoice struct {
	InvoiceNumber string     `json:"invoiceNumber"`
	Date          *time.Time `json:"date,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	Customer      *Customer  `json:"customer,omitempty"`
	Amount        Money      `json:"amount"`
	Subtotal      Money      `json:"subtotal"`
	TaxAmount     Money      `json:"taxAmount"`
	Balance       Money      `json:"balance"`
	Memo          string     `json:"memo,omitempty"`
	Terms         string     `json:"terms,omitempty"`
	Status        Status     `json:"status,omitempty"`
	LineItems     []LineItem `json:"lineItems,omitempty"`
	QuickBooksID  string     `json:"quickBooksId"`
	CreatedDate   *time.Time `json:"createdDate,omitempty"`
	ModifiedDate  *time.Time `json:"modifiedDate,omitempty"`
	ExtractedAt   *time.Time `json:"extractedAt,omitempty"`
}

// MarshalJSON renders the invoice in its public wire format, UTC throughout
func (inv Invoice) MarshalJSON() ([]byte, error) {
	w := wireInvoice{
		InvoiceNumber: inv.Number,
		Date:          utc(inv.Date),
		DueDate:       utc(inv.DueDate),
		Amount:        inv.Amount,
		Subtotal:      inv.Subtotal,
		TaxAmount:     inv.TaxAmount,
		Balance:       inv.Balance,
		Memo:          inv.Memo,
		Terms:         inv.Terms,
		Status:        inv.Status,
		LineItems:     inv.LineItems,
		QuickBooksID:  inv.ID,
		CreatedDate:   utc(inv.CreatedAt),
		ModifiedDate:  utc(inv.LastModified),
		ExtractedAt:   utc(inv.ExtractedAt),
	}
	if inv.Customer != (Customer{}) {
		c := inv.Customer
		w.Customer = &c
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the wire format produced by MarshalJSON
func (inv *Invoice) UnmarshalJSON(data []byte) error {
	var w wireInvoice
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*inv = Invoice{
		ID:           w.QuickBooksID,
		Number:       w.InvoiceNumber,
		Date:         deref(w.Date),
		DueDate:      deref(w.DueDate),
		Amount:       w.Amount,
		Subtotal:     w.Subtotal,
		TaxAmount:    w.TaxAmount,
		Balance:      w.Balance,
		Memo:         w.Memo,
		Terms:        w.Terms,
		Status:       w.Status,
		LineItems:    w.LineItems,
		CreatedAt:    deref(w.CreatedDate),
		LastModified: deref(w.ModifiedDate),
		ExtractedAt:  deref(w.ExtractedAt),
	}
	if w.Customer != nil {
		inv.Customer = *w.Customer
	}
	return nil
}

func utc(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
