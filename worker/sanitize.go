package worker

import "regexp"

// Redacted replaces secret-bearing fragments in outbound error text
const Redacted = "[REDACTED]"

// Order matters: named credential fields go first so their values are caught
// even when shorter than the generic token length, then bearer headers, then
// emails, then any remaining long token-like runs.
var (
	credentialPattern = regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[=:]\s*\S+`)
	bearerPattern     = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`)
	emailPattern      = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	longTokenPattern  = regexp.MustCompile(`[A-Za-z0-9_\-]{21,}`)
)

// Sanitize scrubs credentials, bearer tokens, email addresses, and long
// token-like runs from s. Every error string that leaves the process goes
// through here: the jobs error column, frontend PATCH bodies, and log
// fields on terminal paths.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	s = credentialPattern.ReplaceAllString(s, "$1="+Redacted)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+Redacted)
	s = emailPattern.ReplaceAllString(s, Redacted)
	s = longTokenPattern.ReplaceAllString(s, Redacted)
	return s
}
