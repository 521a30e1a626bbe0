package domain

import (
	"strconv"
	"strings"
)

// SplitPortSuffix splits a raw service name of the form "<name>@<digits>".
//
// Example: "cache@9090" -> ("cache", 9090, true)
//
// The name part must not be empty and the suffix must be all ASCII digits;
// anything else is returned unchanged with ok=false.
func SplitPortSuffix(raw string) (name string, port int, ok bool) {
	at := strings.LastIndexByte(raw, '@')
	if at < 1 || at == len(raw)-1 {
		return raw, 0, false
	}

	digits := raw[at+1:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return raw, 0, false
		}
	}

	p, err := strconv.Atoi(digits)
	if err != nil {
		return raw, 0, false
	}
	return raw[:at], p, true
}
