// README: Address normalization so zone/route blocks match regardless of formatting.
package block

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var abbreviations = map[string]string{
	"st":   "street",
	"ave":  "avenue",
	"rd":   "road",
	"blvd": "boulevard",
	"av":   "avenida",
	"avda": "avenida",
	"cl":   "calle",
	"cll":  "calle",
	"cra":  "carrera",
	"kr":   "carrera",
	"kra":  "carrera",
	"no":   "",
	"nro":  "",
}

// Normalize folds case and accents, splits on anything that is not a letter
// or digit, expands common street abbreviations and joins with single spaces.
// "Av. Simón Bolívar #12-3" and "avenida simon bolivar 12 3" normalize alike.
func Normalize(address string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, address)
	if err != nil {
		plain = address
	}
	plain = cases.Fold().String(plain)

	fields := strings.FieldsFunc(plain, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if full, ok := abbreviations[f]; ok {
			if full == "" {
				continue
			}
			f = full
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
