package device

import "strings"

// ParseAllowlist splits a comma, semicolon, pipe or whitespace separated
// serial list, e.g. ADBSTUDIO_DEVICE_ALLOWLIST="EMU1,192.168.1.5:5555".
func ParseAllowlist(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '\n', '\r', '\t', ' ', '|':
			return true
		default:
			return false
		}
	})
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, serial := range parts {
		if _, ok := seen[serial]; ok {
			continue
		}
		seen[serial] = struct{}{}
		out = append(out, serial)
	}
	return out
}

// allowlist 为空表示不过滤。
type allowlist map[string]struct{}

func newAllowlist(serials []string) allowlist {
	if len(serials) == 0 {
		return nil
	}
	set := make(allowlist, len(serials))
	for _, serial := range serials {
		if serial = strings.TrimSpace(serial); serial != "" {
			set[serial] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (a allowlist) allows(serial string) bool {
	if a == nil {
		return true
	}
	_, ok := a[serial]
	return ok
}
