package qbxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"
)

// qbXML timestamps carry an explicit offset and whole seconds
const dateTimeLayout = "2006-01-02T15:04:05-07:00"

type requestEnvelope struct {
	XMLName xml.Name    `xml:"QBXML"`
	Msgs    requestMsgs `xml:"QBXMLMsgsRq"`
}

type requestMsgs struct {
	OnError      string          `xml:"onError,attr"`
	InvoiceQuery *invoiceQueryRq `xml:"InvoiceQueryRq,omitempty"`
	HostQuery    *hostQueryRq    `xml:"HostQueryRq,omitempty"`
}

type invoiceQueryRq struct {
	RequestID        string                   `xml:"requestID,attr"`
	Iterator         string                   `xml:"iterator,attr,omitempty"`
	IteratorID       string                   `xml:"iteratorID,attr,omitempty"`
	MaxReturned      int                      `xml:"MaxReturned,omitempty"`
	ModifiedDate     *modifiedDateRangeFilter `xml:"ModifiedDateRangeFilter,omitempty"`
	IncludeLineItems bool                     `xml:"IncludeLineItems"`
}

type modifiedDateRangeFilter struct {
	FromModifiedDate string `xml:"FromModifiedDate"`
}

type hostQueryRq struct {
	RequestID string `xml:"requestID,attr"`
}

// BuildInvoiceQuery renders an InvoiceQueryRq for invoices modified at or
// after since. The source's filter is inclusive and second-granular; callers
// apply the strict comparison afterwards. A positive limit starts an
// iterator of pages of that size, continued with BuildInvoiceQueryContinue.
func BuildInvoiceQuery(since time.Time, limit int, version string) ([]byte, error) {
	q := &invoiceQueryRq{
		RequestID:        "1",
		IncludeLineItems: true,
	}
	if limit > 0 {
		q.Iterator = "Start"
		q.MaxReturned = limit
	}
	if !since.IsZero() {
		q.ModifiedDate = &modifiedDateRangeFilter{
			FromModifiedDate: since.Truncate(time.Second).Format(dateTimeLayout),
		}
	}

	return render(requestEnvelope{Msgs: requestMsgs{OnError: "continueOnError", InvoiceQuery: q}}, version)
}

// BuildInvoiceQueryContinue renders the request for page n (2, 3, ...) of
// the iterator opened by BuildInvoiceQuery. QuickBooks keeps the filter of
// the opening request.
func BuildInvoiceQueryContinue(iteratorID string, limit, page int, version string) ([]byte, error) {
	q := &invoiceQueryRq{
		RequestID:        strconv.Itoa(page),
		Iterator:         "Continue",
		IteratorID:       iteratorID,
		MaxReturned:      limit,
		IncludeLineItems: true,
	}
	return render(requestEnvelope{Msgs: requestMsgs{OnError: "continueOnError", InvoiceQuery: q}}, version)
}

// BuildHostQuery renders a HostQueryRq, used to verify a gateway session
func BuildHostQuery(version string) ([]byte, error) {
	return render(requestEnvelope{Msgs: requestMsgs{OnError: "stopOnError", HostQuery: &hostQueryRq{RequestID: "1"}}}, version)
}

func render(env requestEnvelope, version string) ([]byte, error) {
	if version == "" {
		version = "13.0"
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, "<?qbxml version=\"%s\"?>\n", version)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode qbXML request: %w", err)
	}
	return buf.Bytes(), nil
}
