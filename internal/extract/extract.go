// Package extract turns raw OCR text into a structured receipt using
// label-anchored pattern matching. It has no failure mode: anything it
// cannot recognize is left empty.
package extract

import (
	"regexp"
	"strings"
)

// MatchPolicy decides which occurrence wins when a field can match more
// than once in the text
type MatchPolicy int

const (
	// LastMatch keeps the final occurrence in scan order
	LastMatch MatchPolicy = iota
	// FirstMatch keeps the earliest occurrence
	FirstMatch
)

// DefaultMaxItems is the number of item lines kept per receipt
const DefaultMaxItems = 20

// Options configures an Extractor
type Options struct {
	// DateTimePolicy applies to the transaction date and time fields
	DateTimePolicy MatchPolicy
	// MaxItems caps the item lines; zero means DefaultMaxItems
	MaxItems int
}

// Extractor applies the field matchers to OCR text. It holds no mutable
// state and is safe for concurrent use.
type Extractor struct {
	opts Options
}

// New creates an Extractor
func New(opts Options) *Extractor {
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	return &Extractor{opts: opts}
}

var defaultExtractor = New(Options{})

// Extract parses text with the default options
func Extract(text string) *Receipt {
	return defaultExtractor.Extract(text)
}

// Extract builds a Receipt from the full OCR text
func (e *Extractor) Extract(text string) *Receipt {
	doc := document{
		text:  text,
		lines: splitLines(text),
		opts:  e.opts,
	}
	r := &Receipt{
		Items:   []string{},
		RawText: text,
	}
	for _, m := range pipeline {
		m.apply(doc, r)
	}
	return r
}

// document is the shared input every matcher reads
type document struct {
	text  string
	lines []string
	opts  Options
}

var reLineBreak = regexp.MustCompile(`\r\n|\r|\n`)

// splitLines returns the trimmed, non-empty lines of text in order
func splitLines(text string) []string {
	lines := make([]string, 0)
	for _, l := range reLineBreak.Split(text, -1) {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// fieldMatcher populates a single Receipt field
type fieldMatcher struct {
	name    string
	apply   func(doc document, r *Receipt)
	present func(r *Receipt) bool
}

var pipeline = []fieldMatcher{
	{
		name:    "storeName",
		apply:   func(d document, r *Receipt) { r.StoreName, _ = findStoreName(d.lines) },
		present: func(r *Receipt) bool { return r.StoreName != "" },
	},
	{
		name:    "transactionDate",
		apply:   func(d document, r *Receipt) { r.TransactionDate, _ = findDate(d.text, d.opts.DateTimePolicy) },
		present: func(r *Receipt) bool { return r.TransactionDate != "" },
	},
	{
		name:    "transactionTime",
		apply:   func(d document, r *Receipt) { r.TransactionTime, _ = findTime(d.text, d.opts.DateTimePolicy) },
		present: func(r *Receipt) bool { return r.TransactionTime != "" },
	},
	{
		name:    "storePhone",
		apply:   func(d document, r *Receipt) { r.StorePhone, _ = findPhone(d.text) },
		present: func(r *Receipt) bool { return r.StorePhone != "" },
	},
	{
		name:    "storeAddress",
		apply:   func(d document, r *Receipt) { r.StoreAddress, _ = findAddress(d.text) },
		present: func(r *Receipt) bool { return r.StoreAddress != "" },
	},
	{
		name:    "total",
		apply:   func(d document, r *Receipt) { r.Total = optional(findTotal(d.text)) },
		present: func(r *Receipt) bool { return r.Total != nil },
	},
	{
		name:    "subtotal",
		apply:   func(d document, r *Receipt) { r.Subtotal = optional(findSubtotal(d.text)) },
		present: func(r *Receipt) bool { return r.Subtotal != nil },
	},
	{
		name:    "tax",
		apply:   func(d document, r *Receipt) { r.Tax = optional(findTax(d.text)) },
		present: func(r *Receipt) bool { return r.Tax != nil },
	},
	{
		name:    "paymentMethod",
		apply:   func(d document, r *Receipt) { r.PaymentMethod, _ = findPaymentMethod(d.text) },
		present: func(r *Receipt) bool { return r.PaymentMethod != "" },
	},
	{
		name:    "referenceNumber",
		apply:   func(d document, r *Receipt) { r.ReferenceNumber, _ = findReferenceNumber(d.text) },
		present: func(r *Receipt) bool { return r.ReferenceNumber != "" },
	},
	{
		name:    "items",
		apply:   func(d document, r *Receipt) { r.Items = findItems(d.lines, d.opts.MaxItems) },
		present: func(r *Receipt) bool { return len(r.Items) > 0 },
	},
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
