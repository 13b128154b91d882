package fetcher

import (
	"context"
	"crypto/sha1" // #nosec G505 -- used for file naming only
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/render"
	"github.com/JakeFAU/pubsearch/internal/storage"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Recorder keeps diagnostic dumps of failed attempts.
type Recorder interface {
	Record(ctx context.Context, sess render.Session, c Capture)
}

// Capture describes one failed attempt.
type Capture struct {
	Label   string
	URL     string
	Attempt int
	// Page is the last document seen during the attempt, if any.
	Page render.Page
	Err  error
}

// BlobRecorder writes the page HTML and, when the session supports it, a
// screenshot under Prefix in a BlobStore. Failures are logged and ignored.
type BlobRecorder struct {
	Store  storage.BlobStore
	Prefix string
	Logger *zap.Logger
	Now    func() time.Time
}

// Record implements Recorder.
func (r *BlobRecorder) Record(ctx context.Context, sess render.Session, c Capture) {
	if r == nil || r.Store == nil {
		return
	}
	logger := logging.OrNop(r.Logger)
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now()
	}
	base := path.Join(r.Prefix, fmt.Sprintf("%s-attempt%d-%s", captureName(c.Label, c.URL), c.Attempt, now.Format("20060102T150405.000")))

	html := c.Page.HTML
	if sess != nil {
		if snap, err := sess.Snapshot(ctx); err == nil && snap.HTML != "" {
			html = snap.HTML
		}
	}
	if html != "" {
		if _, err := storage.PutBytes(ctx, r.Store, base+".html", "text/html; charset=utf-8", []byte(html)); err != nil {
			logger.Warn("capture html failed", zap.String("label", c.Label), zap.Error(err))
		}
	}

	if sess == nil {
		return
	}
	shot, err := sess.Screenshot(ctx)
	switch {
	case errors.Is(err, render.ErrUnsupported):
		return
	case err != nil:
		logger.Debug("capture screenshot failed", zap.String("label", c.Label), zap.Error(err))
		return
	}
	if _, err := storage.PutBytes(ctx, r.Store, base+".png", "image/png", shot); err != nil {
		logger.Warn("capture screenshot write failed", zap.String("label", c.Label), zap.Error(err))
	}
}

// captureName builds a filesystem-safe stem from the label, falling back to
// the URL host and path.
func captureName(label, rawURL string) string {
	if s := strings.Trim(invalidFilenameChars.ReplaceAllString(label, "_"), "_"); s != "" {
		return s
	}
	sum := sha1.Sum([]byte(rawURL)) // #nosec G401 -- naming only
	return "page_" + hex.EncodeToString(sum[:])[:16]
}
