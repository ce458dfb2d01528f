package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	reDate = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-](?:\d{4}|\d{2})\b` +
		`|(?i:\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2},\s*\d{4}\b)`)

	reTime = regexp.MustCompile(`\b\d{1,2}:\d{2}(?:\s?(?i:am|pm))?\b`)

	rePhone = regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.\s]\d{4}\b|\b\d{3}[-.]\d{3}[-.]\d{4}\b`)

	// street keyword, then a region code and postal code on the same or the next line
	reStreetAddress = regexp.MustCompile(`[0-9A-Za-z][0-9A-Za-z.,'#& -]*?` +
		`\b(?i:street|st|avenue|ave|road|rd|boulevard|blvd|drive|dr|lane|ln|way|court|ct|highway|hwy|parkway|pkwy|place|pl)\b\.?` +
		`[^\n]{0,40}?(?:\n[^\n]{0,40}?)?` +
		`\b[A-Z]{2}\b[ ,]*(?:[A-Z]\d[A-Z] ?\d[A-Z]\d|\d{5}(?:-\d{4})?)\b`)
	rePostalCode = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)

	reTotal    = regexp.MustCompile(`(?i)\bTOTAL\b\s*:?\s*[$€£]?\s*` + amountPattern)
	reSubtotal = regexp.MustCompile(`(?i)\bSUB[ -]?TOTAL\b\s*:?\s*[$€£]?\s*` + amountPattern)
	reTax      = regexp.MustCompile(`(?i)\b(?:SALES\s+TAX|GST|HST|TAX)\b(?:\s*\(?\d{1,2}(?:\.\d+)?\s*%\)?)?\s*:?\s*[$€£]?\s*` + amountPattern)

	reReference = regexp.MustCompile(`(?i)\b(?:REFERENCE|REF)\b\.?\s*(?:#|:|NO\.?)?\s*[#:]?\s*(\d+)`)

	reItemExclude = regexp.MustCompile(`(?i)TOTAL|SUBTOTAL|PAYMENT|DEBIT|CREDIT|CASH|GST|HST`)
)

const amountPattern = `(\d{1,3}(?:,\d{3})+\.\d{2}|\d+\.\d{2})\b`

// paymentKeywords is checked in order; the first keyword found anywhere wins.
// Matching is by substring, the same as reItemExclude, so a line dropped
// from the items as a payment line always sets the payment method.
var paymentKeywords = []struct {
	method PaymentMethod
	re     *regexp.Regexp
}{
	{PaymentDebit, regexp.MustCompile(`(?i)DEBIT`)},
	{PaymentCredit, regexp.MustCompile(`(?i)CREDIT`)},
	{PaymentCash, regexp.MustCompile(`(?i)CASH`)},
}

func findStoreName(lines []string) (string, bool) {
	if len(lines) == 0 {
		return "", false
	}
	return lines[0], true
}

func pick(matches []string, policy MatchPolicy) (string, bool) {
	if len(matches) == 0 {
		return "", false
	}
	if policy == FirstMatch {
		return matches[0], true
	}
	return matches[len(matches)-1], true
}

func findDate(text string, policy MatchPolicy) (string, bool) {
	return pick(reDate.FindAllString(text, -1), policy)
}

func findTime(text string, policy MatchPolicy) (string, bool) {
	return pick(reTime.FindAllString(text, -1), policy)
}

func findPhone(text string) (string, bool) {
	m := rePhone.FindString(text)
	return m, m != ""
}

func findAddress(text string) (string, bool) {
	if m := reStreetAddress.FindString(text); m != "" {
		return joinLines(m), true
	}
	m := rePostalCode.FindString(text)
	return m, m != ""
}

// joinLines flattens a match spanning a line break into a single line
func joinLines(s string) string {
	parts := splitLines(s)
	for i, p := range parts {
		parts[i] = strings.TrimRight(p, " ,")
	}
	return strings.Join(parts, ", ")
}

func findTotal(text string) (float64, bool) {
	for _, m := range reTotal.FindAllStringSubmatchIndex(text, -1) {
		if precededBySub(text[:m[0]]) {
			continue
		}
		return parseAmount(text[m[2]:m[3]])
	}
	return 0, false
}

// precededBySub reports whether a TOTAL label is really the tail of "SUB TOTAL"
func precededBySub(prefix string) bool {
	prefix = strings.TrimRight(prefix, " -")
	return len(prefix) >= 3 && strings.EqualFold(prefix[len(prefix)-3:], "sub")
}

func findSubtotal(text string) (float64, bool) {
	return firstAmount(reSubtotal, text)
}

func findTax(text string) (float64, bool) {
	return firstAmount(reTax, text)
}

func firstAmount(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseAmount(m[1])
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func findPaymentMethod(text string) (PaymentMethod, bool) {
	for _, k := range paymentKeywords {
		if k.re.MatchString(text) {
			return k.method, true
		}
	}
	return "", false
}

func findReferenceNumber(text string) (string, bool) {
	m := reReference.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func findItems(lines []string, max int) []string {
	items := make([]string, 0)
	for _, l := range lines {
		if len(items) == max {
			break
		}
		if reItemExclude.MatchString(l) || utf8.RuneCountInString(l) <= 3 {
			continue
		}
		items = append(items, l)
	}
	return items
}
