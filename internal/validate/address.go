// internal/validate/address.go
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var v = validator.New(validator.WithRequiredStructEnabled())

// Address reports whether s is a syntactically valid email address.
// Deliverability is not checked; this is a gate before dispatch, not a
// probe.
func Address(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return v.Var(s, "email") == nil
}

// AddressList splits a comma-separated address list, trims each entry and
// keeps only the syntactically valid ones, preserving input order.
func AddressList(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if Address(addr) {
			out = append(out, addr)
		}
	}
	return out
}
