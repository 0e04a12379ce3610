package utils

import (
	"strings"
	"unicode"
)

// nameTitles are stripped before names are compared.
var nameTitles = []string{
	"นางสาว", "นาย", "นาง", "น.ส.", "ด.ช.", "ด.ญ.",
	"บริษัท", "บจก.", "หจก.", "จำกัด",
	"mrs.", "mrs", "mr.", "mr", "ms.", "ms", "miss",
	"company", "co.,ltd.", "co.", "ltd.", "ltd",
}

// NormalizeName lowercases a name, removes titles and keeps only letters.
func NormalizeName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	kept := make([]string, 0, len(fields))
	for _, field := range fields {
		for _, title := range nameTitles {
			if stripsTitle(field, title) {
				field = strings.TrimPrefix(field, title)
				break
			}
		}
		kept = append(kept, field)
	}

	var b strings.Builder
	for _, r := range strings.Join(kept, "") {
		if unicode.IsLetter(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripsTitle: Thai titles are written joined to the name, Latin ones only
// count as a whole word or with their dot.
func stripsTitle(field, title string) bool {
	if field == title {
		return true
	}
	if !strings.HasPrefix(field, title) {
		return false
	}
	return strings.HasSuffix(title, ".") || title[0] >= 0x80
}

// DiceCoefficient compares two strings by their character bigrams.
func DiceCoefficient(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) < 2 || len(rb) < 2 {
		if a == b {
			return 1
		}
		return 0
	}

	counts := make(map[[2]rune]int, len(ra)-1)
	for i := 0; i < len(ra)-1; i++ {
		counts[[2]rune{ra[i], ra[i+1]}]++
	}
	overlap := 0
	for i := 0; i < len(rb)-1; i++ {
		bg := [2]rune{rb[i], rb[i+1]}
		if counts[bg] > 0 {
			counts[bg]--
			overlap++
		}
	}
	return float64(2*overlap) / float64(len(ra)-1+len(rb)-1)
}

// NameSimilarity scores two person or company names from 0 to 1. A slip
// that prints only the start of the name still scores well.
func NameSimilarity(slipName, expected string) float64 {
	a, b := NormalizeName(slipName), NormalizeName(expected)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	score := DiceCoefficient(a, b)
	if len([]rune(a)) >= 3 && strings.HasPrefix(b, a) {
		if prefix := DiceCoefficient(a, string([]rune(b)[:len([]rune(a))])); prefix > score {
			score = prefix
		}
	}
	return score
}

// accountSymbols keeps digits and the mask characters banks print.
func accountSymbols(account string) []rune {
	var out []rune
	for _, r := range strings.ToLower(account) {
		if unicode.IsDigit(r) || r == 'x' || r == '*' {
			out = append(out, r)
		}
	}
	return out
}

// AccountMatches checks a masked slip account ("xxx-x-x5678-x") against the
// full configured account. Every visible digit must agree and at least
// three must be visible.
func AccountMatches(masked, full string) bool {
	m, f := accountSymbols(masked), accountSymbols(full)
	visible := 0
	for _, r := range m {
		if unicode.IsDigit(r) {
			visible++
		}
	}
	if visible < 3 {
		return false
	}

	if len(m) == len(f) {
		for i := range m {
			if unicode.IsDigit(m[i]) && m[i] != f[i] {
				return false
			}
		}
		return true
	}

	// Lengths differ (e.g. PromptPay ids): the longest visible digit run must
	// appear in the full account.
	longest, current := "", ""
	for _, r := range m {
		if unicode.IsDigit(r) {
			current += string(r)
			if len(current) > len(longest) {
				longest = current
			}
			continue
		}
		current = ""
	}
	return len(longest) >= 3 && strings.Contains(string(f), longest)
}
