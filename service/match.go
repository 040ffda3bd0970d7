package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/model"
)

// FindCity picks the city record matching name. The comparison ignores
// case and accents and also accepts the city ID or URL key, so "sao paulo",
// "São Paulo" and "sao-paulo" all resolve to the same record.
func FindCity(records []cascade.Record, name string) (cascade.Record, bool) {
	needle := foldName(name)
	if needle == "" {
		return cascade.Record{}, false
	}
	for _, record := range records {
		city, ok := record.Payload.(model.City)
		if !ok {
			continue
		}
		if record.ID == strings.TrimSpace(name) ||
			foldName(city.Name) == needle ||
			foldName(city.UrlKey) == needle {
			return record, true
		}
	}
	return cascade.Record{}, false
}

func foldName(value string) string {
	strip := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(strip, value)
	if err != nil {
		folded = value
	}
	folded = strings.ReplaceAll(strings.ToLower(folded), "-", " ")
	return strings.Join(strings.Fields(folded), " ")
}
