// internal/template/render.go
package template

import (
	"sort"
	"strings"

	"github.com/mergekit/mailmerge-backend/internal/model"
)

// Render substitutes record values into the body and subject templates.
//
// Every {{name}} token from the mapping is replaced with the record's value
// for the mapped column, empty string when the column is absent. The
// recipient column is then replaced as its own token regardless of the
// mapping, so the recipient address is always usable as a placeholder.
// Substitution is literal and token-exact; unmatched tokens stay verbatim.
// Placeholders are applied in sorted name order: a record value that itself
// contains a token must render the same way on every call, which random map
// iteration would not guarantee.
func Render(body, subject string, rec model.Record, mapping model.PlaceholderMapping, recipientColumn string) (string, string) {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		token := "{{" + name + "}}"
		value := rec.Field(mapping[name])
		body = strings.ReplaceAll(body, token, value)
		subject = strings.ReplaceAll(subject, token, value)
	}

	if recipientColumn != "" {
		token := "{{" + recipientColumn + "}}"
		value := rec.Field(recipientColumn)
		body = strings.ReplaceAll(body, token, value)
		subject = strings.ReplaceAll(subject, token, value)
	}

	return body, subject
}

// Placeholders lists the tokens a template may use with the given mapping,
// sorted for stable display. The recipient column is always included.
func Placeholders(mapping model.PlaceholderMapping, recipientColumn string) []string {
	seen := make(map[string]bool, len(mapping)+1)
	out := make([]string, 0, len(mapping)+1)
	for name := range mapping {
		if !seen[name] {
			seen[name] = true
			out = append(out, "{{"+name+"}}")
		}
	}
	if recipientColumn != "" && !seen[recipientColumn] {
		out = append(out, "{{"+recipientColumn+"}}")
	}
	sort.Strings(out)
	return out
}
