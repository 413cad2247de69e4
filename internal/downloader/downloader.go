// Package downloader streams a selected rendition to disk, verifies
// its length, publishes it atomically, and applies provenance and
// optional sidecar metadata (spec.md §4.4).
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/localindex"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
)

// defaultFlushStride bounds how many bytes are written to the partial
// file between explicit flushes, so a killed process loses at most one
// stride's worth of buffered writes rather than the whole transfer
// (spec.md §4.4 "chunking discipline").
const defaultFlushStride = 4 << 20 // 4 MiB

// Retryable transport failures (connection reset, 5xx) are retried
// internally with the same exponential-backoff shape as the API
// client; everything else propagates immediately (spec.md §4.4).
const (
	maxStreamRetries  = 5
	streamBaseBackoff = 1 * time.Second
	streamMaxBackoff  = 30 * time.Second
)

// SidecarWriter writes a companion metadata document for a published
// file. Implemented by internal/sidecar.
type SidecarWriter interface {
	WriteXMP(target naming.Path, asset *icloud.Asset) error
}

// ExifWriter injects a DateTimeOriginal tag into an image file that
// lacks one. Implemented by internal/sidecar.
type ExifWriter interface {
	SetDateTimeOriginal(target naming.Path, t time.Time) (changed bool, err error)
}

// Options controls per-download behavior driven by account config.
type Options struct {
	WriteXMPSidecar  bool
	SetExifDatetime  bool
	FlushStrideBytes int64
}

// Downloader streams renditions via a Transport and publishes them
// through a local Index.
type Downloader struct {
	transport icloud.Transport
	index     *localindex.Index
	sidecar   SidecarWriter
	exif      ExifWriter
	logger    *slog.Logger

	// streamRetryDelay overrides the base retry backoff; tests set this
	// to a tiny duration to avoid real sleeps. Zero means use
	// streamBaseBackoff.
	streamRetryDelay time.Duration
}

// New creates a Downloader. sidecar and exif may be nil when their
// respective options are never enabled.
func New(transport icloud.Transport, index *localindex.Index, sidecar SidecarWriter, exif ExifWriter, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{transport: transport, index: index, sidecar: sidecar, exif: exif, logger: logger}
}

// Result describes the outcome of a successful download.
type Result struct {
	Path         naming.Path
	BytesWritten int64
	Resumed      bool
}

// Download streams rendition to target, resuming from have (the bytes
// already on disk per C2's Probe) when non-zero, verifies the final
// length, publishes atomically, and sets mtime provenance. asset is
// used only for the mtime (its effective creation time) and for
// sidecar/EXIF metadata derivation.
func (d *Downloader) Download(
	ctx context.Context, asset *icloud.Asset, rendition icloud.Rendition,
	target naming.Path, have int64, opts Options,
) (Result, error) {
	h, err := d.index.PreparePartial(target)
	if err != nil {
		return Result{}, err
	}

	stride := opts.FlushStrideBytes
	if stride <= 0 {
		stride = defaultFlushStride
	}

	w := &stridingWriter{w: h.File(), stride: stride}

	// A partial that already holds every byte is published as is,
	// without another request to the transport.
	var written int64
	if have < rendition.ByteLength {
		written, err = d.streamWithRetry(ctx, rendition.SignedURL, have, w)
		if err != nil {
			h.File().Close()

			return Result{}, classifyStreamError(err)
		}
	}

	total := have + written
	if total != rendition.ByteLength {
		h.File().Close()

		return Result{}, &icloud.IntegrityError{Expected: rendition.ByteLength, Got: total}
	}

	published, err := d.index.Publish(h)
	if err != nil {
		return Result{}, err
	}

	mtime := asset.EffectiveCreatedAt()
	if err := d.index.SetMtime(published, mtime); err != nil {
		return Result{}, err
	}

	if opts.WriteXMPSidecar && d.sidecar != nil {
		if err := d.sidecar.WriteXMP(published, asset); err != nil {
			d.logger.Warn("xmp sidecar failed", slog.String("path", string(published)), slog.String("error", err.Error()))
		}
	}

	if opts.SetExifDatetime && d.exif != nil && rendition.Hint == icloud.HintImage {
		if _, err := d.exif.SetDateTimeOriginal(published, mtime); err != nil {
			d.logger.Warn("exif datetime injection failed", slog.String("path", string(published)), slog.String("error", err.Error()))
		}
	}

	return Result{Path: published, BytesWritten: written, Resumed: have > 0}, nil
}

// streamWithRetry calls Transport.Stream, retrying with exponential
// backoff when the failure is classified Retryable. Each retry resumes
// from offset+bytes-already-written-this-call, since w has already
// received whatever bytes made it through before the failure.
func (d *Downloader) streamWithRetry(ctx context.Context, signedURL string, offset int64, w io.Writer) (int64, error) {
	var total int64

	for attempt := 0; ; attempt++ {
		n, err := d.transport.Stream(ctx, signedURL, offset+total, w)
		total += n

		if err == nil {
			return total, nil
		}

		if !icloud.IsRetryable(err) || attempt >= maxStreamRetries {
			return total, err
		}

		base := streamBaseBackoff
		if d.streamRetryDelay > 0 {
			base = d.streamRetryDelay
		}

		backoff := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
		if backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}

		d.logger.Warn("retrying download after transient error",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		t := time.NewTimer(backoff)

		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()

			return total, ctx.Err()
		}
	}
}

// classifyStreamError maps a transport error to one of the classes
// spec.md §4.4 names. Retryable/AuthExpired/RateLimited/NotFound
// errors already carry their sentinel (via APIError or
// WrapTransportError); anything else is tagged Fatal.
func classifyStreamError(err error) error {
	switch {
	case errors.Is(err, icloud.ErrRateLimited),
		errors.Is(err, icloud.ErrAuthExpired),
		errors.Is(err, icloud.ErrNotFound),
		icloud.IsRetryable(err):
		return err
	default:
		return fmt.Errorf("%w: %w", icloud.ErrFatal, err)
	}
}

// stridingWriter flushes the underlying file to stable storage every
// stride bytes, bounding how much buffered data a crash can lose.
type stridingWriter struct {
	w          syncWriter
	stride     int64
	sinceFlush int64
}

type syncWriter interface {
	io.Writer
	Sync() error
}

func (s *stridingWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}

	s.sinceFlush += int64(n)
	if s.sinceFlush >= s.stride {
		s.sinceFlush = 0

		if syncErr := s.w.Sync(); syncErr != nil {
			return n, syncErr
		}
	}

	return n, nil
}
