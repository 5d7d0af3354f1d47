package redact

import "regexp"

// Entity type names produced by the pattern layer.
const (
	TypeEmail      = "EMAIL"
	TypeCard       = "CARD"
	TypePhone      = "PHONE"
	TypeIBAN       = "IBAN"
	TypeNationalID = "NATIONAL_ID"
)

type pattern struct {
	entityType string
	re         *regexp.Regexp
	confidence float64
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ibanPattern  = regexp.MustCompile(`\b[A-Z]{2}\d{2}[ ]?(?:[A-Z0-9]{4}[ ]?){2,7}[A-Z0-9]{1,4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	// Swiss AHV (756.xxxx.xxxx.xx) and US SSN (xxx-xx-xxxx) shapes.
	nationalIDPattern = regexp.MustCompile(`\b(?:756\.\d{4}\.\d{4}\.\d{2}|\d{3}-\d{2}-\d{4})\b`)
	phonePattern      = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

// defaultPatterns is the structured-format detection table, applied in
// order. Card and national-id run before phone to avoid long digit
// sequences being classified as phone numbers.
func defaultPatterns() []pattern {
	return []pattern{
		{TypeEmail, emailPattern, 0.95},
		{TypeIBAN, ibanPattern, 0.9},
		{TypeCard, cardPattern, 0.85},
		{TypeNationalID, nationalIDPattern, 0.9},
		{TypePhone, phonePattern, 0.8},
	}
}
