package notify

import "strings"

// MaskEmail keeps the first character of the local part and the domain:
// "jane@example.com" becomes "j***@example.com". Values without an "@" are
// masked entirely except the first character.
func MaskEmail(addr string) string {
	if addr == "" {
		return ""
	}
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return addr[:1] + "***"
	}
	return addr[:1] + "***" + addr[at:]
}
