package extract

// PaymentMethod is the tender type printed on a receipt
type PaymentMethod string

const (
	PaymentDebit  PaymentMethod = "DEBIT"
	PaymentCredit PaymentMethod = "CREDIT"
	PaymentCash   PaymentMethod = "CASH"
)

// Receipt holds the fields recovered from OCR text.
// Every field is optional: an empty string or nil pointer means the
// extractor could not find it.
type Receipt struct {
	StoreName       string        `json:"storeName,omitempty"`
	StoreAddress    string        `json:"storeAddress,omitempty"`
	StorePhone      string        `json:"storePhone,omitempty"`
	TransactionDate string        `json:"transactionDate,omitempty"` // as printed, not normalized
	TransactionTime string        `json:"transactionTime,omitempty"`
	Subtotal        *float64      `json:"subtotal,omitempty"`
	Tax             *float64      `json:"tax,omitempty"`
	Total           *float64      `json:"total,omitempty"`
	PaymentMethod   PaymentMethod `json:"paymentMethod,omitempty"`
	ReferenceNumber string        `json:"referenceNumber,omitempty"`
	Items           []string      `json:"items"`
	RawText         string        `json:"rawText"`
}

// Fields returns the names of the populated fields, in pipeline order
func (r *Receipt) Fields() []string {
	var fields []string
	for _, m := range pipeline {
		if m.present(r) {
			fields = append(fields, m.name)
		}
	}
	return fields
}
