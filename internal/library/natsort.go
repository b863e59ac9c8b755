package library

import (
	"strings"
	"unicode"
)

// naturalLess compares two strings so that embedded numbers sort by value:
// "page2" < "page10" even though lexicographic order says otherwise.
// Comparison is case-insensitive outside of digit runs.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aDigit := isDigit(a[0])
		bDigit := isDigit(b[0])

		if aDigit && bDigit {
			aNum, aRest := splitDigits(a)
			bNum, bRest := splitDigits(b)
			if aNum != bNum {
				// Compare numerically: longer trimmed run is larger,
				// equal-length runs compare lexicographically.
				aTrim := strings.TrimLeft(aNum, "0")
				bTrim := strings.TrimLeft(bNum, "0")
				if len(aTrim) != len(bTrim) {
					return len(aTrim) < len(bTrim)
				}
				if aTrim != bTrim {
					return aTrim < bTrim
				}
				// Same value, different zero padding: fewer zeros first.
				return len(aNum) < len(bNum)
			}
			a, b = aRest, bRest
			continue
		}

		if aDigit != bDigit {
			// Digits sort before letters at the same position.
			return aDigit
		}

		ar := unicode.ToLower(rune(a[0]))
		br := unicode.ToLower(rune(b[0]))
		if ar != br {
			return ar < br
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// splitDigits peels the leading digit run off s.
func splitDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}
