// Package icloud is the transport-facing client for the remote photo
// service: session authentication, asset/album/library listing, signed
// download URLs, and move-to-Recently-Deleted. It mirrors the shape of
// a typical Graph-style API client — structured errors, retry with
// backoff, and a single Client type — but speaks the photo-library
// domain instead of a generic file-drive domain.
package icloud

import "time"

// Kind identifies the media kind of an asset.
type Kind string

// Asset kinds as reported by the service.
const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
	KindLive  Kind = "live"
)

// SizeTag identifies a rendition's logical size.
type SizeTag string

// Rendition size tags (data-model.md §3 in spec.md).
const (
	SizeOriginal    SizeTag = "original"
	SizeMedium      SizeTag = "medium"
	SizeThumb       SizeTag = "thumb"
	SizeAdjusted    SizeTag = "adjusted"
	SizeAlternative SizeTag = "alternative"
)

// AssetTypeHint tells the downloader which MIME family a rendition belongs to.
type AssetTypeHint string

// Asset type hints.
const (
	HintImage AssetTypeHint = "image"
	HintMovie AssetTypeHint = "movie"
)

// Asset is an immutable-per-iteration record for one remote photo-library
// entry. Two Asset values for the same asset_id retrieved in the same
// pass are guaranteed to carry identical fields; across passes, the
// service may return updated data (e.g. a newly added album membership).
type Asset struct {
	ID      string
	Kind    Kind
	AddedAt time.Time // UTC instant the asset entered the library

	// CreatedAt is the local wall-clock time the photo was taken, as
	// reported by the service. HasTZ indicates whether the service
	// supplied an offset; when false, callers must apply a configured
	// default zone rather than assuming UTC.
	CreatedAt time.Time
	HasTZ     bool

	IsFavorite       bool
	AlbumMembership  map[string]struct{}
	LibraryID        string
	DeletedInICloud  bool
	Renditions       map[SizeTag]Rendition
	LiveVideo        map[SizeTag]Rendition // still-keyed live-photo video renditions
	RawRepresentation *Rendition            // present for RAW+JPEG two-representation assets
}

// EffectiveCreatedAt returns CreatedAt when present, else falls back to
// AddedAt — used by mtime provenance and keep-icloud-recent-days math
// (spec.md §4.4, §4.6).
func (a *Asset) EffectiveCreatedAt() time.Time {
	if a.CreatedAt.IsZero() {
		return a.AddedAt
	}

	return a.CreatedAt
}

// InAlbum reports whether the asset belongs to the given album ID.
func (a *Asset) InAlbum(albumID string) bool {
	if a.AlbumMembership == nil {
		return false
	}

	_, ok := a.AlbumMembership[albumID]

	return ok
}

// Rendition is one downloadable form of an asset.
type Rendition struct {
	Size        SizeTag
	Filename    string // may be empty — service-supplied name is optional
	ByteLength  int64
	SignedURL   string
	ContentType string
	Hint        AssetTypeHint
}

// HasFilename reports whether the service supplied a filename for this
// rendition. Callers must not treat an empty string as a sentinel —
// absence is modeled explicitly.
func (r *Rendition) HasFilename() bool {
	return r.Filename != ""
}

// Album is a named collection of assets, including the special
// Recently-Deleted album.
type Album struct {
	ID        string
	Name      string
	LibraryID string
}

// RecentlyDeletedAlbumName is the well-known album holding logically
// deleted assets during their grace period.
const RecentlyDeletedAlbumName = "Recently Deleted"

// Library identifies a personal or shared photo library.
type Library struct {
	ID     string
	Name   string
	Shared bool
}

// AssetPage is one page of a cursored, added-date-descending asset listing.
type AssetPage struct {
	Assets     []Asset
	NextCursor string // empty when this is the final page
}
