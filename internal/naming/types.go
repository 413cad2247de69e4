// Package naming computes canonical on-disk paths for asset renditions.
// Every function here is pure: given the same (asset, rendition, config)
// it always returns the same Path, regardless of wall-clock time or
// filesystem state (spec.md §3 Invariants, §9 "service layers as
// explicit dependencies").
package naming

import (
	"time"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
)

// UnicodePolicy controls whether non-ASCII characters are preserved in
// sanitized filenames.
type UnicodePolicy int

// Unicode handling policies.
const (
	UnicodeKeep UnicodePolicy = iota
	UnicodeStrip
)

// DuplicatePolicy controls how name collisions between distinct assets
// are resolved.
type DuplicatePolicy int

// Duplicate policies (spec.md §3 Duplicate policy).
const (
	DuplicateSizeSuffix DuplicatePolicy = iota // name-size-dedup-with-suffix
	DuplicateID7                               // name-id7
)

// LivePhotoPolicy controls live-photo video naming.
type LivePhotoPolicy int

// Live-photo naming policies (spec.md §3 Live-photo video naming).
const (
	LiveSuffix LivePhotoPolicy = iota // suffix: IMG_1234_HEVC.MOV
	LiveOriginal                      // original: IMG_1234.MOV
)

// AlignRawPolicy controls which RAW+JPEG representation is labeled
// "original" (spec.md §4.3 rule 4).
type AlignRawPolicy int

// Align-raw policies.
const (
	AlignRawIsOriginal AlignRawPolicy = iota
	AlignJPEGIsOriginal
	AlignAsIs
)

// Config carries every naming-relevant option. Passed explicitly to
// every function in this package rather than read from an ambient
// service object.
type Config struct {
	Directory       string
	FolderTemplate  string // strftime-style; sentinel "none" collapses the hierarchy
	Unicode         UnicodePolicy
	Duplicate       DuplicatePolicy
	LivePhoto       LivePhotoPolicy
	AlignRaw        AlignRawPolicy
	DefaultLocation *time.Location // applied when an asset's CreatedAt lacks a timezone

	// LegacyTemplates lists folder templates used by earlier policy
	// generations, newest-last removed; AdmissiblePaths walks them in
	// order after the current template to preserve backward
	// compatibility across policy changes (spec.md §4.1).
	LegacyTemplates []string
	LegacyDuplicate []DuplicatePolicy
}

// FolderNone is the sentinel folder_structure value that collapses the
// directory hierarchy to a flat layout.
const FolderNone = "none"
