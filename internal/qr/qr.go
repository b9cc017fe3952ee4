// Package qr renders check-in QR codes and builds the public URLs they point at.
package qr

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 300

// PNG encodes content as a QR code image.
func PNG(content string, size int) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("qr: empty content")
	}
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	return png, errors.Wrap(err, "encode qr")
}

// BaseURL returns the externally reachable origin for r. A configured base wins;
// otherwise X-Forwarded-Proto/Host from a tunnel or proxy are honoured.
func BaseURL(configured string, r *http.Request) string {
	if b := strings.TrimRight(strings.TrimSpace(configured), "/"); b != "" {
		return b
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := firstValue(r.Header.Get("X-Forwarded-Proto")); p != "" {
		scheme = p
	}
	host := r.Host
	if h := firstValue(r.Header.Get("X-Forwarded-Host")); h != "" {
		host = h
	}
	return scheme + "://" + host
}

// CheckinURL is the page a session's QR code opens.
func CheckinURL(base string, sessionID int64) string {
	q := url.Values{}
	q.Set("session_id", strconv.FormatInt(sessionID, 10))
	return strings.TrimRight(base, "/") + "/checkin?" + q.Encode()
}

// PosterURL is the session-less check-in page printed on posters; it always targets today.
func PosterURL(base string) string {
	return strings.TrimRight(base, "/") + "/checkin"
}

func firstValue(h string) string {
	if i := strings.IndexByte(h, ','); i >= 0 {
		h = h[:i]
	}
	return strings.TrimSpace(h)
}
