package agents

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// grouped renders n with thousands separators and the given number of decimals.
func grouped(n float64, decimals int) string {
	switch decimals {
	case 0:
		return printer.Sprintf("%.0f", n)
	case 2:
		return printer.Sprintf("%.2f", n)
	default:
		return printer.Sprintf("%.1f", n)
	}
}

// trimNumber prints n without a trailing ".0" for whole values.
func trimNumber(n float64) string {
	if n == math.Trunc(n) {
		return printer.Sprintf("%.0f", n)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// daysUntil counts calendar days from now's UTC date to t.
func daysUntil(t, now time.Time) int {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Floor(t.Sub(today).Hours() / 24))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
