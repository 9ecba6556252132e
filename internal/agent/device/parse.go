package device

import "strings"

// ParseList parses `adb devices` output. The first line is a header and is
// discarded; each remaining line yields serial and status from its first two
// whitespace-separated fields. Lines with fewer fields are skipped, as are
// repeated serials and adb server chatter ("* daemon started ..."). Model is
// left empty.
func ParseList(output string) []Device {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if len(lines) <= 1 {
		return nil
	}
	devices := make([]Device, 0, len(lines)-1)
	seen := make(map[string]struct{}, len(lines)-1)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.HasPrefix(fields[0], "*") {
			continue
		}
		if _, dup := seen[fields[0]]; dup {
			continue
		}
		seen[fields[0]] = struct{}{}
		devices = append(devices, Device{Serial: fields[0], Status: fields[1]})
	}
	return devices
}
