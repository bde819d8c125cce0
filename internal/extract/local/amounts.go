package local

import (
	"strconv"
	"strings"
)

// parseAmount handles the number layouts seen on French and English
// invoices: "1 234,56", "1.234,56", "1,234.56", "1234,56", "1234.56".
func parseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "€$£¥₣₹₽₩₴₺₿")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" || strings.HasSuffix(s, "%") {
		return 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// the later separator is the decimal mark, the other groups thousands
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// a trailing 1-2 digit group is decimals, otherwise thousands
		if len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0 && len(s)-lastDot-1 == 3 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// maxAmount returns the largest amount printed on a line, 0 when none.
func maxAmount(line string) float64 {
	var best float64
	for _, m := range reAmount.FindAllString(line, -1) {
		if v, ok := parseAmount(m); ok && v > best {
			best = v
		}
	}
	return best
}
