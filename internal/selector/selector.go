// Package selector chooses which renditions of an asset to download and
// under which logical identity (spec.md §4.3). It performs no I/O.
package selector

import (
	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
)

// SelectedVersion is one rendition chosen for download, paired with
// its correlated live-photo video rendition when one was selected.
type SelectedVersion struct {
	Size      icloud.SizeTag
	Rendition icloud.Rendition
	LiveVideo *icloud.Rendition
}

// Config carries the user-facing selection options (spec.md §4.3).
type Config struct {
	Sizes          []icloud.SizeTag // ordered, possibly repeated
	ForceSize      bool
	AlignRaw       naming.AlignRawPolicy
	SkipLivePhotos bool
	LivePhotoSize  icloud.SizeTag
}

// Select implements rules 1-5 of spec.md §4.3.
func Select(asset *icloud.Asset, cfg Config) []SelectedVersion {
	renditions := effectiveRenditions(asset, cfg.AlignRaw)

	var out []SelectedVersion

	seen := make(map[icloud.SizeTag]bool)

	for _, want := range cfg.Sizes {
		size := resolveSize(want, renditions, cfg.ForceSize)
		if size == "" || seen[size] {
			continue
		}

		seen[size] = true

		rendition := renditions[size]

		sv := SelectedVersion{Size: size, Rendition: rendition}

		if asset.Kind == icloud.KindLive && !cfg.SkipLivePhotos {
			if lv := selectLiveVideo(asset, cfg.LivePhotoSize); lv != nil {
				sv.LiveVideo = lv
			}
		}

		out = append(out, sv)
	}

	return out
}

// effectiveRenditions applies the align_raw policy (rule 4) to decide
// which of a RAW+JPEG pair is labeled original vs. alternative, then
// returns the asset's rendition map relabeled accordingly. Assets
// without a two-representation form pass through unchanged.
func effectiveRenditions(asset *icloud.Asset, policy naming.AlignRawPolicy) map[icloud.SizeTag]icloud.Rendition {
	out := make(map[icloud.SizeTag]icloud.Rendition, len(asset.Renditions)+1)
	for size, r := range asset.Renditions {
		out[size] = r
	}

	if asset.RawRepresentation == nil {
		return out
	}

	raw := *asset.RawRepresentation
	jpeg, hasJPEG := out[icloud.SizeOriginal]

	if !hasJPEG {
		return out
	}

	switch policy {
	case naming.AlignRawIsOriginal:
		out[icloud.SizeOriginal] = raw
		out[icloud.SizeAlternative] = jpeg
	case naming.AlignJPEGIsOriginal:
		out[icloud.SizeOriginal] = jpeg
		out[icloud.SizeAlternative] = raw
	default: // AlignAsIs: service assignment preserved, raw stays "alternative"
		out[icloud.SizeAlternative] = raw
	}

	return out
}

// resolveSize applies rules 1-3: direct presence, adjusted-without-edit
// falling back to original, and (unless force_size) absence falling
// back to original.
func resolveSize(want icloud.SizeTag, renditions map[icloud.SizeTag]icloud.Rendition, forceSize bool) icloud.SizeTag {
	if r, ok := renditions[want]; ok {
		if want == icloud.SizeAdjusted && !hasRealEdit(r) {
			return fallbackOriginal(renditions)
		}

		return want
	}

	if forceSize {
		return ""
	}

	return fallbackOriginal(renditions)
}

func fallbackOriginal(renditions map[icloud.SizeTag]icloud.Rendition) icloud.SizeTag {
	if _, ok := renditions[icloud.SizeOriginal]; ok {
		return icloud.SizeOriginal
	}

	return ""
}

// hasRealEdit reports whether an "adjusted" rendition actually carries
// edited bytes distinct from the original, as opposed to the service
// echoing the original under the adjusted key when no edit exists.
func hasRealEdit(r icloud.Rendition) bool {
	return r.HasFilename() && r.ByteLength > 0
}

// selectLiveVideo picks the live-photo video rendition at the
// requested logical size, analogous to still-rendition selection
// (rule 5), falling back to whatever live-video rendition is present
// when the exact size is absent.
func selectLiveVideo(asset *icloud.Asset, want icloud.SizeTag) *icloud.Rendition {
	if r, ok := asset.LiveVideo[want]; ok {
		return &r
	}

	for _, r := range asset.LiveVideo {
		return &r
	}

	return nil
}
