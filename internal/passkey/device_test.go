// ABOUTME: Tests for device labels and relying party derivation
// ABOUTME: Table-driven over common User-Agent strings and base URLs

package passkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceName(t *testing.T) {
	tests := []struct {
		explicit, ua, want string
	}{
		{"", iPhoneUA, "iPhone"},
		{"", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36", "Android"},
		{"", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "Windows"},
		{"", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)", "Mac"},
		{"", "Mozilla/5.0 (X11; Linux x86_64)", "Linux"},
		{"", "curl/8.0", DefaultDeviceName},
		{"", "", DefaultDeviceName},
		{"  Work laptop ", iPhoneUA, "Work laptop"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeviceName(tt.explicit, tt.ua), "ua %q", tt.ua)
	}
}

func TestDeriveRelyingParty(t *testing.T) {
	rpID, origins, err := DeriveRelyingParty("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", rpID)
	assert.Equal(t, []string{"http://localhost", "https://localhost"}, origins)

	rpID, origins, err = DeriveRelyingParty("https://auth.example.com:8443/app")
	require.NoError(t, err)
	assert.Equal(t, "auth.example.com", rpID)
	assert.Equal(t, []string{"https://auth.example.com:8443", "http://auth.example.com:8443"}, origins)

	_, _, err = DeriveRelyingParty("not a url")
	assert.Error(t, err)
}
