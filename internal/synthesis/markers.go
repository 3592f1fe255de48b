package synthesis

import (
	"regexp"
	"strconv"
	"strings"
)

// maxRangeSpan bounds how many numbers a single "[a-b]" marker expands to.
const maxRangeSpan = 50

var markerPattern = regexp.MustCompile(`\[\s*\d+(?:\s*[-–]\s*\d+)?(?:\s*,\s*\d+(?:\s*[-–]\s*\d+)?)*\s*\]`)

// marker is one bracketed citation group in a narrative.
type marker struct {
	start, end int   // byte offsets of the brackets
	numbers    []int // provisional numbers in written order, 0 for a malformed range
}

// findMarkers returns every citation marker of text in order.
func findMarkers(text string) []marker {
	var out []marker
	for _, loc := range markerPattern.FindAllStringIndex(text, -1) {
		m := marker{start: loc[0], end: loc[1]}
		body := strings.Trim(text[loc[0]:loc[1]], "[] ")
		for _, part := range strings.Split(body, ",") {
			part = strings.TrimSpace(part)
			lo, hi, isRange := strings.Cut(strings.ReplaceAll(part, "–", "-"), "-")
			a, _ := strconv.Atoi(strings.TrimSpace(lo))
			if !isRange {
				m.numbers = append(m.numbers, a)
				continue
			}
			b, _ := strconv.Atoi(strings.TrimSpace(hi))
			if b < a || b-a >= maxRangeSpan {
				m.numbers = append(m.numbers, 0)
				continue
			}
			for n := a; n <= b; n++ {
				m.numbers = append(m.numbers, n)
			}
		}
		out = append(out, m)
	}
	return out
}

// outOfRange lists the marker numbers that do not name one of n items.
func outOfRange(markers []marker, n int) []int {
	var bad []int
	seen := map[int]bool{}
	for _, m := range markers {
		for _, num := range m.numbers {
			if (num < 1 || num > n) && !seen[num] {
				seen[num] = true
				bad = append(bad, num)
			}
		}
	}
	return bad
}

func formatMarker(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
