package httpproto

import "strings"

// ParseCookies splits a Cookie header value on "; " and then each pair on
// "=" (spec.md §4.5). A pair with no "=" is skipped rather than erroring —
// the header's own malformed-ness isn't part of the message parse itself.
func ParseCookies(header string) map[string]string {
	if header == "" {
		return nil
	}
	cookies := make(map[string]string)
	for _, pair := range strings.Split(header, "; ") {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		cookies[name] = value
	}
	return cookies
}
