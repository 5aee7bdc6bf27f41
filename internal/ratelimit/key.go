package ratelimit

import "strings"

// KeyForUser builds the limiter key for an authenticated caller.
// Requests are limited per utorid, not per connection.
func KeyForUser(utorid string) string {
	utorid = strings.TrimSpace(utorid)
	if utorid == "" {
		return ""
	}
	return "u:" + utorid
}
