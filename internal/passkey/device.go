// ABOUTME: Coarse device labels derived from a User-Agent header
// ABOUTME: Used when a passkey is registered without an explicit device name

package passkey

import "strings"

// DefaultDeviceName is the label for unrecognized user agents.
const DefaultDeviceName = "Web Browser"

// Order matters: iPhone agents mention "Mac OS X" and Android agents mention "Linux".
var deviceMarkers = []struct {
	marker string
	label  string
}{
	{"iPhone", "iPhone"},
	{"Android", "Android"},
	{"Windows", "Windows"},
	{"Mac", "Mac"},
	{"Linux", "Linux"},
}

// DeviceName returns explicit when non-blank, otherwise a label sniffed from userAgent.
func DeviceName(explicit, userAgent string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	for _, m := range deviceMarkers {
		if strings.Contains(userAgent, m.marker) {
			return m.label
		}
	}
	return DefaultDeviceName
}
