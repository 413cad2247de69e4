package naming

import (
	"crypto/sha1" //nolint:gosec // fingerprint, not a security primitive
	"encoding/base32"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	strftime "github.com/ncruces/go-strftime"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
)

// Path is a canonical on-disk location for a rendition, relative to
// nothing — it is always the full absolute path under Config.Directory.
type Path string

// forbiddenChars are characters disallowed on at least one supported
// filesystem (Windows, in practice, since it is the most restrictive).
const forbiddenChars = `<>:"/\|?*`

// fingerprintTokenLen is the number of base32 characters kept from the
// asset-ID fingerprint when deriving a name or a duplicate-dedup token
// (spec.md §3 Filename identity rule 3).
const fingerprintTokenLen = 7

// SanitizeFilename applies the pure transform described in spec.md §3
// Filename identity: strip/keep Unicode, replace forbidden characters,
// and fall back to a fingerprint-derived name when the service supplied
// none.
func SanitizeFilename(assetID, serviceName string, unicodePolicy UnicodePolicy) string {
	name := serviceName
	if name == "" {
		name = fingerprintName(assetID)
	}

	if unicodePolicy == UnicodeStrip {
		name = stripNonASCII(name)
	} else {
		name = norm.NFC.String(name)
	}

	return replaceForbidden(name)
}

// fingerprintName derives a stable placeholder filename from an
// asset's ID fingerprint when the service supplies none.
func fingerprintName(assetID string) string {
	return "IMG_" + fingerprintToken(assetID) + ".jpg"
}

// fingerprintToken returns the first 7 base32 characters of a SHA-1
// fingerprint of assetID — the disambiguating token used both for
// fallback filenames and for the name-id7 duplicate policy.
func fingerprintToken(assetID string) string {
	sum := sha1.Sum([]byte(assetID)) //nolint:gosec // identity fingerprint, not a security hash
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])

	if len(encoded) < fingerprintTokenLen {
		return encoded
	}

	return strings.ToLower(encoded[:fingerprintTokenLen])
}

func stripNonASCII(s string) string {
	var b strings.Builder

	for _, r := range s {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}

	return b.String()
}

func replaceForbidden(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenChars, r) {
			return '_'
		}

		return r
	}, name)
}

// folderSegment formats the asset's created-at instant through the
// configured strftime-style template, applying the configured default
// zone when the asset lacks a timezone. Returns "" for the FolderNone
// sentinel, which collapses the hierarchy.
func folderSegment(asset *icloud.Asset, template string, defaultLoc *time.Location) string {
	if template == FolderNone {
		return ""
	}

	t := asset.EffectiveCreatedAt()

	if !asset.HasTZ && defaultLoc != nil {
		t = t.In(defaultLoc)
	}

	// A template written as "{:<pattern>}" (the form of the default
	// folder structure) is unwrapped to its inner strftime pattern.
	if strings.HasPrefix(template, "{:") && strings.HasSuffix(template, "}") {
		template = template[2 : len(template)-1]
	}

	formatted, err := strftime.Format(template, t)
	if err != nil {
		// A malformed template degrades to a flat layout rather than
		// panicking; templates are not validated at config-load time.
		return ""
	}

	return formatted
}

// extensionSuffix applies the logical-size-to-extension-suffix table
// from spec.md §3.
func extensionSuffix(size icloud.SizeTag, baseName, originalExt string) string {
	ext := filepath.Ext(baseName)
	stem := strings.TrimSuffix(baseName, ext)

	switch size {
	case icloud.SizeMedium:
		return stem + "-medium" + ext
	case icloud.SizeThumb:
		return stem + "-thumb" + ext
	case icloud.SizeAdjusted:
		if ext == originalExt {
			return stem + "-adjusted" + ext
		}

		return baseName
	default:
		return baseName
	}
}

// CanonicalStillPath computes the canonical path for a still rendition
// (spec.md §4.1).
func CanonicalStillPath(asset *icloud.Asset, rendition *icloud.Rendition, cfg *Config) Path {
	return canonicalPath(asset, rendition, cfg.Duplicate, cfg)
}

func canonicalPath(asset *icloud.Asset, rendition *icloud.Rendition, dup DuplicatePolicy, cfg *Config) Path {
	base := SanitizeFilename(asset.ID, rendition.Filename, cfg.Unicode)

	originalExt := ""
	if orig, ok := asset.Renditions[icloud.SizeOriginal]; ok {
		originalExt = filepath.Ext(SanitizeFilename(asset.ID, orig.Filename, cfg.Unicode))
	}

	base = extensionSuffix(rendition.Size, base, originalExt)
	base = applyDuplicatePolicy(base, asset.ID, rendition.ByteLength, dup)

	segment := folderSegment(asset, cfg.FolderTemplate, cfg.DefaultLocation)
	if segment == "" {
		return Path(filepath.Join(cfg.Directory, base))
	}

	return Path(filepath.Join(cfg.Directory, segment, base))
}

// applyDuplicatePolicy appends the size-suffix or id7 token per
// spec.md §3 Duplicate policy. Under name-id7 every asset carries the
// token unconditionally (deterministic regardless of discovery order);
// under name-size-dedup-with-suffix the byte-length suffix is applied
// only by the caller that detected an actual collision (see
// ResolveCollision) — canonicalPath here always returns the
// non-suffixed form for that policy, and the engine calls
// ResolveCollision when two assets map to the same path.
func applyDuplicatePolicy(base, assetID string, _ int64, dup DuplicatePolicy) string {
	if dup != DuplicateID7 {
		return base
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	return stem + "_" + fingerprintToken(assetID) + ext
}

// ResolveCollision returns the de-duplicated path for the asset that
// collided with an already-claimed canonical path under
// name-size-dedup-with-suffix, by appending its byte length to the
// file stem (directory and extension are kept). Called by
// internal/reconcile's Engine when two distinct assets in the same
// pass compute the same canonical path (spec.md §3 Duplicate policy,
// §4.1 Duplicate-suffix resolution).
func ResolveCollision(basePath Path, byteLength int64) Path {
	ext := filepath.Ext(string(basePath))
	stem := strings.TrimSuffix(string(basePath), ext)

	return Path(stem + "-" + strconv.FormatInt(byteLength, 10) + ext)
}

// CanonicalLiveVideoPath computes the canonical path for a live photo's
// correlated video rendition (spec.md §3 Live-photo video naming).
func CanonicalLiveVideoPath(asset *icloud.Asset, stillPath Path, cfg *Config) Path {
	ext := filepath.Ext(string(stillPath))
	stem := strings.TrimSuffix(string(stillPath), ext)

	switch cfg.LivePhoto {
	case LiveOriginal:
		return Path(stem + ".MOV")
	default: // LiveSuffix
		if strings.EqualFold(ext, ".heic") {
			return Path(stem + "_HEVC.MOV")
		}
		// Policy refuses a still extension it cannot suffix-name sensibly;
		// callers treat an empty Path as "no admissible live video name".
		return ""
	}
}

// AdmissiblePaths returns the current canonical path followed by the
// legacy paths an earlier policy generation would have produced for
// the same rendition, in order (spec.md §4.1). The current canonical
// path is always first and is always included — the admissible set is
// a superset of it by construction.
func AdmissiblePaths(asset *icloud.Asset, rendition *icloud.Rendition, cfg *Config) []Path {
	paths := []Path{CanonicalStillPath(asset, rendition, cfg)}

	for i, legacyTemplate := range cfg.LegacyTemplates {
		legacyCfg := *cfg
		legacyCfg.FolderTemplate = legacyTemplate

		if i < len(cfg.LegacyDuplicate) {
			legacyCfg.Duplicate = cfg.LegacyDuplicate[i]
		}

		paths = append(paths, canonicalPath(asset, rendition, legacyCfg.Duplicate, &legacyCfg))
	}

	return paths
}
