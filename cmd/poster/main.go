package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/poster"
)

func main() {
	var (
		opts poster.Options
		out  string
		date string
	)
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	cmd := &cobra.Command{
		Use:           "poster",
		Short:         "Render the printable check-in poster as a PDF",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.BaseURL == "" {
				return errors.New("set --base-url or PUBLIC_BASE_URL")
			}
			opts.Date = time.Now()
			if date != "" {
				d, err := time.ParseInLocation(attendance.DateLayout, date, time.Local)
				if err != nil {
					return errors.Wrap(err, "invalid --date, expected YYYY-MM-DD")
				}
				opts.Date = d
			}
			if out == "" {
				out = poster.DefaultFilename(opts.Date)
			}
			if err := poster.WriteFile(out, opts, log); err != nil {
				return err
			}
			log.Info().Str("file", out).Str("target", opts.BaseURL).Msg("poster written")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.BaseURL, "base-url", cfg.PublicBaseURL, "public base URL the QR code points at")
	f.StringVarP(&out, "out", "o", "", "output PDF path (default checkin_poster_<date>.pdf)")
	f.StringVar(&date, "date", "", "date printed on the poster, YYYY-MM-DD (default today)")
	f.StringVar(&opts.Title, "title", "", "poster title")
	f.StringVar(&opts.Subtitle, "subtitle", "", "line under the title")
	f.StringVar(&opts.Footer, "footer", "", "footer text")
	f.StringVar(&opts.FlagPath, "flag", "flag.png", "flag image shown beside the title, skipped if missing")
	f.StringVar(&opts.MascotPath, "mascot", "mascot.png", "mascot image shown beside the QR code, skipped if missing")

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("poster failed")
	}
}
