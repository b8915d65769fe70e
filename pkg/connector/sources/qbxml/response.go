package qbxml

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/models"
)

// Status codes returned in InvoiceQueryRs
const (
	statusOK      = 0
	statusNoMatch = 1
)

type responseEnvelope struct {
	XMLName xml.Name     `xml:"QBXML"`
	Msgs    responseMsgs `xml:"QBXMLMsgsRs"`
}

type responseMsgs struct {
	InvoiceQuery *invoiceQueryRs `xml:"InvoiceQueryRs"`
	HostQuery    *statusRs       `xml:"HostQueryRs"`
}

type statusRs struct {
	StatusCode     string `xml:"statusCode,attr"`
	StatusSeverity string `xml:"statusSeverity,attr"`
	StatusMessage  string `xml:"statusMessage,attr"`
}

type invoiceQueryRs struct {
	statusRs
	IteratorRemainingCount string       `xml:"iteratorRemainingCount,attr"`
	IteratorID             string       `xml:"iteratorID,attr"`
	Invoices               []invoiceRet `xml:"InvoiceRet"`
}

// invoicePage is one InvoiceQueryRs. Remaining is the number of invoices
// the iterator still holds; it is zero for queries without an iterator.
type invoicePage struct {
	Invoices   []invoiceRet
	IteratorID string
	Remaining  int
}

type ref struct {
	ListID   string `xml:"ListID"`
	FullName string `xml:"FullName"`
}

type address struct {
	Addr1      string `xml:"Addr1"`
	Addr2      string `xml:"Addr2"`
	City       string `xml:"City"`
	State      string `xml:"State"`
	PostalCode string `xml:"PostalCode"`
	Country    string `xml:"Country"`
}

type invoiceRet struct {
	TxnID            string           `xml:"TxnID"`
	TimeCreated      string           `xml:"TimeCreated"`
	TimeModified     string           `xml:"TimeModified"`
	RefNumber        string           `xml:"RefNumber"`
	CustomerRef      *ref             `xml:"CustomerRef"`
	TxnDate          string           `xml:"TxnDate"`
	BillAddress      *address         `xml:"BillAddress"`
	IsPending        bool             `xml:"IsPending"`
	DueDate          string           `xml:"DueDate"`
	TermsRef         *ref             `xml:"TermsRef"`
	Subtotal         string           `xml:"Subtotal"`
	SalesTaxTotal    string           `xml:"SalesTaxTotal"`
	TotalAmount      string           `xml:"TotalAmount"`
	BalanceRemaining string           `xml:"BalanceRemaining"`
	Memo             string           `xml:"Memo"`
	IsPaid           bool             `xml:"IsPaid"`
	Lines            []invoiceLineRet `xml:"InvoiceLineRet"`
	Groups           []lineGroupRet   `xml:"InvoiceLineGroupRet"`
}

type invoiceLineRet struct {
	ItemRef  *ref   `xml:"ItemRef"`
	Desc     string `xml:"Desc"`
	Quantity string `xml:"Quantity"`
	Rate     string `xml:"Rate"`
	Amount   string `xml:"Amount"`
}

type lineGroupRet struct {
	Lines []invoiceLineRet `xml:"InvoiceLineRet"`
}

// ParseInvoiceResponse decodes an InvoiceQueryRs document. A "no match"
// status yields an empty batch; any other non-zero status is an extraction
// error carrying the code and message.
func ParseInvoiceResponse(data []byte) ([]invoiceRet, error) {
	page, err := parseInvoicePage(data)
	if err != nil {
		return nil, err
	}
	return page.Invoices, nil
}

func parseInvoicePage(data []byte) (invoicePage, error) {
	var env responseEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return invoicePage{}, errors.Wrap(err, errors.ErrorTypeExtraction, "failed to decode qbXML response")
	}

	rs := env.Msgs.InvoiceQuery
	if rs == nil {
		return invoicePage{}, errors.New(errors.ErrorTypeExtraction, "qbXML response has no InvoiceQueryRs")
	}

	code, err := rs.code()
	if err != nil {
		return invoicePage{}, err
	}

	page := invoicePage{IteratorID: rs.IteratorID}
	if v := strings.TrimSpace(rs.IteratorRemainingCount); v != "" {
		page.Remaining, err = strconv.Atoi(v)
		if err != nil || page.Remaining < 0 {
			return invoicePage{}, errors.New(errors.ErrorTypeExtraction, "qbXML response has an invalid iteratorRemainingCount").
				WithDetail("iterator_remaining_count", rs.IteratorRemainingCount)
		}
	}

	switch code {
	case statusOK:
		page.Invoices = rs.Invoices
		return page, nil
	case statusNoMatch:
		return page, nil
	default:
		return invoicePage{}, rs.failure(code, "invoice query failed")
	}
}

// ParseHostResponse checks the status of a HostQueryRs document
func ParseHostResponse(data []byte) error {
	var env responseEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to decode qbXML host response")
	}
	rs := env.Msgs.HostQuery
	if rs == nil {
		return errors.New(errors.ErrorTypeConnection, "qbXML response has no HostQueryRs")
	}
	code, err := rs.code()
	if err != nil {
		return err
	}
	if code != statusOK {
		f := rs.failure(code, "host query failed")
		f.Type = errors.ErrorTypeConnection
		return f
	}
	return nil
}

func (s *statusRs) code() (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s.StatusCode))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeExtraction, "qbXML response has an invalid statusCode").
			WithDetail("status_code", s.StatusCode)
	}
	return code, nil
}

func (s *statusRs) failure(code int, msg string) *errors.Error {
	return errors.New(errors.ErrorTypeExtraction, fmt.Sprintf("%s: %s", msg, s.StatusMessage)).
		WithDetail("status_code", code).
		WithDetail("status_severity", s.StatusSeverity).
		WithDetail("status_message", s.StatusMessage)
}

// toInvoice maps one InvoiceRet onto the canonical model. Missing
// timestamps are left zero for the pipeline to reject; unparseable values
// are a malformed record.
func (r *invoiceRet) toInvoice(loc *time.Location) (*models.Invoice, error) {
	inv := &models.Invoice{
		ID:     r.TxnID,
		Number: r.RefNumber,
		Memo:   r.Memo,
		Status: status(r),
	}

	var err error
	fail := func(field string, cause error) (*models.Invoice, error) {
		return nil, errors.Wrap(cause, errors.ErrorTypeMalformedRecord, "invalid "+field).
			WithDetail("invoice_id", r.TxnID).
			WithDetail("field", field)
	}

	if inv.CreatedAt, err = parseTime(r.TimeCreated, loc); err != nil {
		return fail("TimeCreated", err)
	}
	if inv.LastModified, err = parseTime(r.TimeModified, loc); err != nil {
		return fail("TimeModified", err)
	}
	if inv.Date, err = parseTime(r.TxnDate, loc); err != nil {
		return fail("TxnDate", err)
	}
	if inv.DueDate, err = parseTime(r.DueDate, loc); err != nil {
		return fail("DueDate", err)
	}

	if inv.Subtotal, err = parseMoney(r.Subtotal); err != nil {
		return fail("Subtotal", err)
	}
	if inv.TaxAmount, err = parseMoney(r.SalesTaxTotal); err != nil {
		return fail("SalesTaxTotal", err)
	}
	if inv.Balance, err = parseMoney(r.BalanceRemaining); err != nil {
		return fail("BalanceRemaining", err)
	}
	if r.TotalAmount != "" {
		if inv.Amount, err = parseMoney(r.TotalAmount); err != nil {
			return fail("TotalAmount", err)
		}
	} else {
		inv.Amount = inv.Subtotal.Plus(inv.TaxAmount)
	}

	if r.TermsRef != nil {
		inv.Terms = r.TermsRef.FullName
	}
	if r.CustomerRef != nil {
		inv.Customer.Name = r.CustomerRef.FullName
	}
	if a := r.BillAddress; a != nil {
		inv.Customer.Address = &models.Address{
			Line1:      a.Addr1,
			Line2:      a.Addr2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
	}

	lines := r.Lines
	for _, g := range r.Groups {
		lines = append(lines, g.Lines...)
	}
	for _, l := range lines {
		item, err := l.toLineItem()
		if err != nil {
			return fail("InvoiceLineRet", err)
		}
		inv.LineItems = append(inv.LineItems, item)
	}

	return inv, nil
}

func (l *invoiceLineRet) toLineItem() (models.LineItem, error) {
	item := models.LineItem{Description: l.Desc}
	if l.ItemRef != nil {
		item.ItemName = l.ItemRef.FullName
		// Item full names are colon-separated paths; the root is the item kind
		if i := strings.Index(l.ItemRef.FullName, ":"); i > 0 {
			item.ItemType = l.ItemRef.FullName[:i]
		}
	}

	var err error
	if item.Quantity, err = parseMoney(l.Quantity); err != nil {
		return item, err
	}
	if item.UnitPrice, err = parseMoney(l.Rate); err != nil {
		return item, err
	}
	if item.Amount, err = parseMoney(l.Amount); err != nil {
		return item, err
	}
	return item, nil
}

func status(r *invoiceRet) models.Status {
	switch {
	case r.IsPaid:
		return models.StatusPaid
	case r.IsPending:
		return models.StatusPending
	default:
		return models.StatusOpen
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime accepts qbXML datetimes with or without an offset, and plain
// dates. Values without an offset are interpreted in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseMoney(s string) (models.Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.Zero, nil
	}
	return models.NewMoney(s)
}
