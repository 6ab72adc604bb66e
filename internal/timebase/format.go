package timebase

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

var ptsPattern = regexp.MustCompile(
	`^([+-])?(?:(\d+):)?(\d\d):(\d\d)\.(\d\d\d)$`,
)

// FormatPTS renders pts as [-]H:MM:SS.mmm
func FormatPTS(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, h, m, s, ms%1000)
}

// ParsePTS accepts [-][H:]MM:SS.mmm or a plain integer millisecond value.
func ParsePTS(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, nil
	}

	m := ptsPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("invalid time %q", text)
	}
	var hours int64
	if m[2] != "" {
		hours, _ = strconv.ParseInt(m[2], 10, 64)
	}
	minutes, _ := strconv.ParseInt(m[3], 10, 64)
	seconds, _ := strconv.ParseInt(m[4], 10, 64)
	millis, _ := strconv.ParseInt(m[5], 10, 64)

	ret := ((hours*60+minutes)*60+seconds)*1000 + millis
	if m[1] == "-" {
		ret = -ret
	}
	return ret, nil
}

// Rational returns num/den, or nil when either part is zero.
func Rational(num, den int64) *big.Rat {
	if num == 0 || den == 0 {
		return nil
	}
	return big.NewRat(num, den)
}

// ParseRational parses ffprobe style "24000/1001" or "16:15" ratios.
// A zero numerator or denominator yields nil so callers can default.
func ParseRational(text string) (*big.Rat, error) {
	text = strings.TrimSpace(text)
	sep := "/"
	if strings.Contains(text, ":") {
		sep = ":"
	}
	parts := strings.SplitN(text, sep, 2)
	num, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ratio %q: %w", text, err)
	}
	den := int64(1)
	if len(parts) == 2 {
		den, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ratio %q: %w", text, err)
		}
	}
	return Rational(num, den), nil
}
