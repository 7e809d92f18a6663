// Package number assigns human-facing invoice numbers of the form
// INV-<year>-<5-digit sequence>.
package number

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var numberRe = regexp.MustCompile(`^INV-(\d{4})-(\d{5,})$`)

// Next returns the number after the highest sequence already used in year.
// Numbers from other years or in other formats are ignored.
func Next(existing []string, year int) string {
	var maxSeq int64
	for _, raw := range existing {
		y, seq, ok := Parse(raw)
		if !ok || y != year {
			continue
		}
		maxSeq = max(maxSeq, seq)
	}
	return Format(year, maxSeq+1)
}

// Parse splits a canonical number into its year and sequence.
func Parse(number string) (int, int64, bool) {
	match := numberRe.FindStringSubmatch(strings.TrimSpace(number))
	if match == nil {
		return 0, 0, false
	}
	year, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, 0, false
	}
	seq, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return year, seq, true
}

// Format renders year and seq in the canonical form. Sequences past 99999
// widen rather than wrap.
func Format(year int, seq int64) string {
	return fmt.Sprintf("INV-%04d-%05d", year, seq)
}
