package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders v as Brazilian currency, e.g. "R$ 1.234,50".
func FormatBRL(v float64) string {
	if v < 0 {
		return "-R$ " + FormatDecimal(-v, 2)
	}
	return "R$ " + FormatDecimal(v, 2)
}

// ParseBRL reverses FormatBRL. It also accepts plain pt-BR numbers.
func ParseBRL(s string) (float64, error) {
	clean := strings.TrimSpace(s)
	negative := strings.HasPrefix(clean, "-")
	clean = strings.TrimPrefix(clean, "-")
	clean = strings.TrimPrefix(clean, "R$")
	clean = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '.':
			return -1
		case ',':
			return '.'
		}
		return r
	}, clean)
	if clean == "" {
		return 0, fmt.Errorf("parse BRL %q: empty amount", s)
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("parse BRL %q: %w", s, err)
	}
	if negative {
		v = -v
	}
	return v, nil
}

// FormatDecimal uses the pt-BR separators: dot for thousands, comma for decimals.
func FormatDecimal(v float64, digits int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return printer.Sprintf(fmt.Sprintf("%%.%df", digits), v)
}

func FormatPercent(v float64) string {
	return FormatDecimal(v, 2) + "%"
}

func FormatUSD(v float64) string {
	return "US$ " + FormatDecimal(v, 4)
}

func FormatInt(v int64) string {
	return printer.Sprintf("%d", v)
}
