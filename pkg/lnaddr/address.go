package lnaddr

import "strings"

// SplitAddress splits a Lightning/NIP-05 address of the form name@domain.
// Both parts must be non-empty.
func SplitAddress(address string) (name, domain string, err error) {
	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", badRequest(CodeInvalidFormat, "invalid address format, expected name@domain")
	}
	return parts[0], parts[1], nil
}

// Valid reports whether address parses as name@domain.
func Valid(address string) bool {
	_, _, err := SplitAddress(address)
	return err == nil
}
