package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/objectstore"
)

// Target identifies the inspection uploads are filed under. InspectionID is
// zero when media is attached outside an inspection.
type Target struct {
	PropertyID   string
	InspectionID int64
}

// File is a pending ref bound to the zone whose folder it is uploaded into.
type File struct {
	Ref    checklist.MediaRef
	ZoneID int64
}

// Uploaded is where a ref ended up. MimeType differs from the ref's when
// the photo was re-encoded on the way.
type Uploaded struct {
	URL      string
	MimeType string
}

// Result of one upload batch. Every file is in exactly one of Uploaded or
// Failed. Photos lists the URLs of newly stored images, in batch order, for
// the archival notification.
type Result struct {
	Uploaded map[string]Uploaded
	Failed   map[string]error
	Photos   []string
}

// ObjectKey returns {propertyId}/{inspectionId|"updates"}/{zoneId}/{refId}{ext}.
// The ref id is the file name so that identity survives re-hydration.
func ObjectKey(t Target, zoneID int64, refID, mimeType string) string {
	folder := "updates"
	if t.InspectionID != 0 {
		folder = strconv.FormatInt(t.InspectionID, 10)
	}
	return fmt.Sprintf("%s/%s/%d/%s%s", t.PropertyID, folder, zoneID, refID, objectstore.ExtensionFor(mimeType))
}

type Options struct {
	// Concurrency bounds parallel uploads. Zero means 4.
	Concurrency int
	// Rate caps uploads per second. Zero disables throttling.
	Rate float64
	// MaxDimension downsizes photos whose longest side is larger. Zero
	// uploads photos untouched.
	MaxDimension int
}

// Correlator uploads batches of pending media. It is safe for concurrent
// use.
type Correlator struct {
	store       objectstore.Store
	limiter     *rate.Limiter
	concurrency int
	maxDim      int
	logger      *slog.Logger
}

func NewCorrelator(store objectstore.Store, opts Options, logger *slog.Logger) *Correlator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return &Correlator{
		store:       store,
		limiter:     rate.NewLimiter(limit, opts.Concurrency),
		concurrency: opts.Concurrency,
		maxDim:      opts.MaxDimension,
		logger:      logger,
	}
}

// Upload stores every file and reports the outcome per ref id. A failed file
// never stops the others; the caller keeps it pending for the next save.
func (c *Correlator) Upload(ctx context.Context, t Target, files []File) Result {
	res := Result{
		Uploaded: make(map[string]Uploaded, len(files)),
		Failed:   make(map[string]error),
	}
	if len(files) == 0 {
		return res
	}

	c.logger.Info("media upload started", "property_id", t.PropertyID, "inspection_id", t.InspectionID, "files", len(files))

	photos := make([]string, len(files))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, f := range files {
		g.Go(func() error {
			up, err := c.uploadOne(ctx, t, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("media upload failed", "ref_id", f.Ref.ID, "zone_id", f.ZoneID, "error", err)
				res.Failed[f.Ref.ID] = err
				return nil
			}
			res.Uploaded[f.Ref.ID] = up
			if f.Ref.IsImage() {
				photos[i] = up.URL
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, u := range photos {
		if u != "" {
			res.Photos = append(res.Photos, u)
		}
	}

	c.logger.Info("media upload complete", "property_id", t.PropertyID, "uploaded", len(res.Uploaded), "failed", len(res.Failed))
	return res
}

func (c *Correlator) uploadOne(ctx context.Context, t Target, f File) (Uploaded, error) {
	if !f.Ref.Pending() {
		return Uploaded{}, fmt.Errorf("media %s has no pending payload", f.Ref.ID)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Uploaded{}, fmt.Errorf("failed to wait for upload slot: %w", err)
	}

	data, mimeType := f.Ref.Data, f.Ref.MimeType
	if f.Ref.IsImage() {
		data, mimeType = c.normalize(data, mimeType)
	}

	key := ObjectKey(t, f.ZoneID, f.Ref.ID, mimeType)
	url, err := c.store.Save(ctx, key, mimeType, bytes.NewReader(data))
	if err != nil {
		return Uploaded{}, fmt.Errorf("failed to save %s: %w", key, err)
	}
	return Uploaded{URL: url, MimeType: mimeType}, nil
}

// normalize downsizes oversized photos and re-encodes them as JPEG.
// Anything it cannot decode is passed through unchanged.
func (c *Correlator) normalize(data []byte, mimeType string) ([]byte, string) {
	if c.maxDim <= 0 {
		return data, mimeType
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, mimeType
	}
	b := img.Bounds()
	if b.Dx() <= c.maxDim && b.Dy() <= c.maxDim {
		return data, mimeType
	}

	resized := imaging.Fit(img, c.maxDim, c.maxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		c.logger.Warn("failed to re-encode photo, uploading original", "error", err)
		return data, mimeType
	}
	c.logger.Debug("photo downsized", "from_w", b.Dx(), "from_h", b.Dy(), "bytes_before", len(data), "bytes_after", buf.Len())
	return buf.Bytes(), "image/jpeg"
}
