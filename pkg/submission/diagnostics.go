package submission

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/browser"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Diagnostics writes the page HTML, a markdown rendering of it and a screenshot after
// a failed attempt
type Diagnostics struct {
	dir       string
	converter *md.Converter
	logger    *zap.Logger
}

// NewDiagnostics stores captures under dir
func NewDiagnostics(dir string, logger *zap.Logger) *Diagnostics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diagnostics{
		dir:       dir,
		converter: md.NewConverter("", true, nil),
		logger:    logger.Named("diagnostics"),
	}
}

// Capture snapshots the session. Failures are logged and never returned; whatever
// could be written is reported.
func (d *Diagnostics) Capture(ctx context.Context, session browser.Session, key string, attempt int) (htmlPath, pngPath string) {
	snap, err := session.Snapshot(ctx)
	if err != nil {
		d.logger.Warn("Incomplete page snapshot", zap.String("url", key), zap.Error(err))
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		d.logger.Error("Failed to create diagnostics dir", zap.String("dir", d.dir), zap.Error(err))
		return "", ""
	}

	taken := snap.TakenAt
	if taken.IsZero() {
		taken = time.Now()
	}
	base := filepath.Join(d.dir, fmt.Sprintf("%s_attempt%d_%s", slug(key), attempt, taken.UTC().Format("20060102T150405")))

	if snap.HTML != "" {
		htmlPath = base + ".html"
		if err := os.WriteFile(htmlPath, []byte(snap.HTML), 0644); err != nil {
			d.logger.Error("Failed to save page html", zap.Error(err))
			htmlPath = ""
		}
		d.writeText(base+".md", snap.HTML)
	}
	if len(snap.Screenshot) > 0 {
		pngPath = base + ".png"
		if err := os.WriteFile(pngPath, snap.Screenshot, 0644); err != nil {
			d.logger.Error("Failed to save screenshot", zap.Error(err))
			pngPath = ""
		}
	}

	d.logger.Info("Saved failure snapshot",
		zap.String("url", key),
		zap.Int("attempt", attempt),
		zap.String("html", htmlPath),
		zap.String("screenshot", pngPath),
	)
	return htmlPath, pngPath
}

// writeText keeps a readable copy of the page, which is usually enough to spot the
// form's own error message
func (d *Diagnostics) writeText(path, html string) {
	text, err := d.converter.ConvertString(html)
	if err != nil {
		d.logger.Debug("Could not convert page to markdown", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		d.logger.Error("Failed to save page text", zap.Error(err))
	}
}

// slug turns a URL into something usable as a file name
func slug(key string) string {
	s := unsafeChars.ReplaceAllString(key, "_")
	if len(s) > 80 {
		s = s[len(s)-80:]
	}
	return s
}
