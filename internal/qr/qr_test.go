package qr

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestPNG(t *testing.T) {
	png, err := PNG("https://class.example.com/checkin?session_id=3", 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))

	_, err = PNG("  ", 256)
	assert.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		host       string
		headers    map[string]string
		want       string
	}{
		{name: "configured wins", configured: "https://abc.ngrok.io/", host: "localhost:5000", want: "https://abc.ngrok.io"},
		{name: "request host", host: "localhost:5000", want: "http://localhost:5000"},
		{
			name:    "forwarded headers",
			host:    "127.0.0.1:5000",
			headers: map[string]string{"X-Forwarded-Proto": "https", "X-Forwarded-Host": "abc.trycloudflare.com"},
			want:    "https://abc.trycloudflare.com",
		},
		{
			name:    "first forwarded value",
			host:    "127.0.0.1:5000",
			headers: map[string]string{"X-Forwarded-Proto": "https, http"},
			want:    "https://127.0.0.1:5000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.Host = tt.host
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, BaseURL(tt.configured, r))
		})
	}
}

func TestCheckinURLs(t *testing.T) {
	assert.Equal(t, "https://abc.ngrok.io/checkin?session_id=5", CheckinURL("https://abc.ngrok.io/", 5))
	assert.Equal(t, "https://abc.ngrok.io/checkin", PosterURL("https://abc.ngrok.io"))
}
