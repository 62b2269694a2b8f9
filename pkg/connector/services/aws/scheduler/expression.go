package scheduler

import "strings"

// IsCron reports whether expression is a cron(...) expression, the only kind a
// timezone applies to.
func IsCron(expression string) bool {
	return strings.HasPrefix(strings.TrimSpace(expression), "cron(")
}
