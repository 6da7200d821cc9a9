package email

import "strings"

// defaultDunningSubject and defaultDunningBody are used whenever a merchant
// has not overridden copy for a given retry attempt.
const (
	defaultDunningSubject = "Your payment didn't go through"
	defaultDunningBody    = "Hi {{customer_name}},\n\nWe were unable to process your payment of {{amount}}. " +
		"Please update your payment method: {{update_url}}\n"
)

// Tokens is the set of values substituted into a template body. Amount is
// pre-formatted by the caller (e.g. "$19.00") since currency formatting
// depends on the invoice, not this package.
type Tokens struct {
	CustomerName string
	Amount       string
	UpdateURL    string
}

// Render substitutes the fixed token whitelist into body and subject,
// leaving any other "{{...}}" sequence untouched since template bodies are
// sanitized against the same whitelist before being persisted.
func Render(subject, body string, t Tokens) (renderedSubject, renderedBody string) {
	replacer := strings.NewReplacer(
		"{{customer_name}}", t.CustomerName,
		"{{amount}}", t.Amount,
		"{{update_url}}", t.UpdateURL,
	)
	return replacer.Replace(subject), replacer.Replace(body)
}

// DefaultDunningCopy returns the built-in subject/body used when a merchant
// has no override for the retry attempt being sent.
func DefaultDunningCopy() (subject, body string) {
	return defaultDunningSubject, defaultDunningBody
}

// SanitizeBody strips anything that looks like a "{{token}}" substitution
// marker not present in the allowed whitelist, so a merchant-submitted
// template can never smuggle an unexpected interpolation point. It only
// governs token syntax: HTML tags and attributes pass through unchanged,
// and no HTML allowlist sanitizer runs on the body elsewhere.
func SanitizeBody(body string, allowed []string) string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, tok := range allowed {
		allowedSet[tok] = true
	}

	var out strings.Builder
	for i := 0; i < len(body); {
		if strings.HasPrefix(body[i:], "{{") {
			end := strings.Index(body[i:], "}}")
			if end == -1 {
				out.WriteString(body[i:])
				break
			}
			token := body[i : i+end+2]
			if allowedSet[token] {
				out.WriteString(token)
			}
			i += end + 2
			continue
		}
		out.WriteByte(body[i])
		i++
	}
	return out.String()
}
