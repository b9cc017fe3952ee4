// Package poster renders the printable check-in poster.
package poster

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"rollcall/internal/qr"
)

const inch = 72.0

// Options controls the poster content. Empty texts fall back to defaults.
type Options struct {
	BaseURL    string
	Title      string
	Subtitle   string
	Footer     string
	Date       time.Time
	FlagPath   string
	MascotPath string
}

func (o *Options) defaults() {
	if o.Title == "" {
		o.Title = "Attendance Check-In"
	}
	if o.Subtitle == "" {
		o.Subtitle = "Scan the QR code below to log your attendance"
	}
	if o.Footer == "" {
		o.Footer = "Please keep this poster near the room entrance"
	}
	if o.Date.IsZero() {
		o.Date = time.Now()
	}
}

// DefaultFilename names the output after the poster date.
func DefaultFilename(day time.Time) string {
	return "checkin_poster_" + day.Format("2006-01-02") + ".pdf"
}

// Render writes a letter-size PDF poster pointing at the base URL's check-in page.
func Render(w io.Writer, opts Options, log zerolog.Logger) error {
	if opts.BaseURL == "" {
		return errors.New("poster: base url required")
	}
	opts.defaults()
	target := qr.PosterURL(opts.BaseURL)

	png, err := qr.PNG(target, 1024)
	if err != nil {
		return err
	}

	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	width, height := pdf.GetPageSize()

	centred := func(y, h float64, text string) {
		pdf.SetXY(0, y-h/2)
		pdf.CellFormat(width, h, tr(text), "", 0, "CM", false, 0, "")
	}

	// header bar and title
	pdf.SetFillColor(230, 77, 140)
	pdf.Rect(0, 0, width, 1.35*inch, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 30)
	centred(0.75*inch, 36, opts.Title)

	// date line with optional flag badge
	dateY := 1.72 * inch
	pdf.SetTextColor(120, 120, 120)
	pdf.SetFont("Helvetica", "B", 16)
	centred(dateY, 20, opts.Date.Format("Monday, Jan 02, 2006"))
	flag := 0.55 * inch
	badge(pdf, opts.FlagPath, width/2-2.6*inch, dateY-flag/2, flag, flag, log)

	pdf.SetTextColor(0, 0, 139)
	pdf.SetFont("Helvetica", "I", 14)
	centred(2.12*inch, 18, opts.Subtitle)

	// QR code
	size := 4.0 * inch
	qrX, qrY := (width-size)/2, (height-size)/2
	pdf.RegisterImageOptionsReader("checkin-qr", gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
	pdf.ImageOptions("checkin-qr", qrX, qrY, size, size, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	mascot := 1.2 * inch
	badge(pdf, opts.MascotPath, qrX+size+0.4*inch, qrY+size/2-mascot/2, mascot, mascot, log)

	// divider and URL fallback
	qrBottom := qrY + size
	pdf.SetDrawColor(211, 211, 211)
	pdf.SetLineWidth(2)
	pdf.Line(width*0.2, qrBottom+0.35*inch, width*0.8, qrBottom+0.35*inch)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 12)
	centred(qrBottom+0.6*inch, 16, "Or visit: "+target)

	// footer bar
	pdf.SetFillColor(46, 48, 56)
	pdf.Rect(0, height-0.85*inch, width, 0.85*inch, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "", 10)
	centred(height-0.45*inch, 14, opts.Footer)

	if err := pdf.Error(); err != nil {
		return errors.Wrap(err, "build poster")
	}
	return errors.Wrap(pdf.Output(w), "write poster")
}

// WriteFile renders the poster to path, creating parent directories.
func WriteFile(path string, opts Options, log zerolog.Logger) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	var buf bytes.Buffer
	if err := Render(&buf, opts, log); err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, buf.Bytes(), 0o644), "write %s", path)
}

// badge draws an image on a white bordered card. Missing files are skipped.
func badge(pdf *gofpdf.Fpdf, path string, x, y, w, h float64, log zerolog.Logger) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		log.Warn().Str("path", path).Msg("sticker not found, skipped")
		return
	}
	opts := gofpdf.ImageOptions{ReadDpi: true}
	if pdf.RegisterImageOptions(path, opts); !pdf.Ok() {
		log.Warn().Err(pdf.Error()).Str("path", path).Msg("sticker unreadable, skipped")
		pdf.ClearError()
		return
	}
	const pad = 6.0
	pdf.SetFillColor(255, 255, 255)
	pdf.SetDrawColor(217, 217, 230)
	pdf.SetLineWidth(1.5)
	pdf.Rect(x-pad, y-pad, w+2*pad, h+2*pad, "FD")
	pdf.ImageOptions(path, x, y, w, h, false, opts, 0, "")
}
