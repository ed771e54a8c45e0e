package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "valid https url", url: "https://validator.w3.org/nu/?out=json"},
		{name: "valid http url", url: "http://jigsaw.w3.org/css-validator/validator"},
		{name: "file scheme", url: "file:///etc/passwd", wantErr: "URL scheme must be http or https"},
		{name: "missing host", url: "http:///path", wantErr: "URL must have a host"},
		{name: "localhost", url: "http://localhost:8888/", wantErr: "requests to localhost are not allowed"},
		{name: "loopback", url: "http://127.0.0.1:8888/", wantErr: "requests to loopback addresses are not allowed"},
		{name: "ipv6 loopback", url: "http://[::1]/", wantErr: "requests to loopback addresses are not allowed"},
		{name: "private", url: "http://10.0.0.5/", wantErr: "requests to private network addresses are not allowed"},
		{name: "metadata endpoint", url: "http://169.254.169.254/latest", wantErr: "requests to link-local addresses are not allowed"},
		{name: "unspecified", url: "http://0.0.0.0/", wantErr: "requests to unspecified addresses are not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckEndpoint(tt.url, false)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCheckEndpointAllowPrivate(t *testing.T) {
	assert.NoError(t, CheckEndpoint("http://127.0.0.1:8888/", true))
	assert.NoError(t, CheckEndpoint("http://localhost/", true))
	assert.Error(t, CheckEndpoint("ftp://localhost/", true), "scheme is checked regardless")
}

func TestValidLabName(t *testing.T) {
	valid := []string{"flexbox-1", "dom_events", "Lab.2", "a"}
	for _, name := range valid {
		assert.True(t, ValidLabName(name), name)
	}

	invalid := []string{"", "..", "../etc", "a/b", "a..b", ".hidden", "with space", "-dash"}
	for _, name := range invalid {
		assert.False(t, ValidLabName(name), name)
	}
}
