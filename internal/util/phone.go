package util

import "strings"

// NormalizePhone trims the number and drops the separators people paste in.
// A leading "whatsapp:" channel prefix is removed.
func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "whatsapp:")
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return r.Replace(p)
}
