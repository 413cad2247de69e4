package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
)

func testConfig() *Config {
	return &Config{
		Directory:      "/out",
		FolderTemplate: "%Y/%m/%d",
		Unicode:        UnicodeKeep,
		Duplicate:      DuplicateSizeSuffix,
		LivePhoto:      LiveSuffix,
		AlignRaw:       AlignRawIsOriginal,
	}
}

func TestCanonicalStillPath_Basic(t *testing.T) {
	asset := &icloud.Asset{
		ID:        "asset-1",
		CreatedAt: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC),
		HasTZ:     true,
	}
	rendition := &icloud.Rendition{Size: icloud.SizeOriginal, Filename: "IMG_1234.HEIC"}

	path := CanonicalStillPath(asset, rendition, testConfig())

	assert.Equal(t, Path("/out/2025/01/02/IMG_1234.HEIC"), path)
}

func TestCanonicalStillPath_FolderNone(t *testing.T) {
	asset := &icloud.Asset{ID: "a", CreatedAt: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), HasTZ: true}
	rendition := &icloud.Rendition{Size: icloud.SizeOriginal, Filename: "IMG_1234.HEIC"}

	cfg := testConfig()
	cfg.FolderTemplate = FolderNone

	path := CanonicalStillPath(asset, rendition, cfg)
	assert.Equal(t, Path("/out/IMG_1234.HEIC"), path)
}

func TestCanonicalStillPath_MediumSuffix(t *testing.T) {
	asset := &icloud.Asset{ID: "a", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), HasTZ: true}
	rendition := &icloud.Rendition{Size: icloud.SizeMedium, Filename: "IMG_1234.HEIC"}

	cfg := testConfig()
	cfg.FolderTemplate = FolderNone

	path := CanonicalStillPath(asset, rendition, cfg)
	assert.Equal(t, Path("/out/IMG_1234-medium.HEIC"), path)
}

func TestCanonicalStillPath_MissingFilename(t *testing.T) {
	asset := &icloud.Asset{ID: "stable-id-123", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), HasTZ: true}
	rendition := &icloud.Rendition{Size: icloud.SizeOriginal, Filename: ""}

	cfg := testConfig()
	cfg.FolderTemplate = FolderNone

	path := CanonicalStillPath(asset, rendition, cfg)
	require.NotEmpty(t, path)
	assert.Contains(t, string(path), "IMG_")
}

func TestCanonicalStillPath_Pure(t *testing.T) {
	asset := &icloud.Asset{ID: "a", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), HasTZ: true}
	rendition := &icloud.Rendition{Size: icloud.SizeOriginal, Filename: "IMG_1234.HEIC"}
	cfg := testConfig()

	p1 := CanonicalStillPath(asset, rendition, cfg)
	p2 := CanonicalStillPath(asset, rendition, cfg)

	assert.Equal(t, p1, p2)
}

func TestResolveCollision(t *testing.T) {
	base := Path("/out/IMG_0001.JPG")
	resolved := ResolveCollision(base, 67890)

	assert.Equal(t, Path("/out/IMG_0001-67890.JPG"), resolved)
}

func TestDuplicatePolicy_ID7(t *testing.T) {
	asset1 := &icloud.Asset{ID: "asset-one", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), HasTZ: true}
	asset2 := &icloud.Asset{ID: "asset-two", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), HasTZ: true}
	rendition := &icloud.Rendition{Size: icloud.SizeOriginal, Filename: "IMG_0001.JPG"}

	cfg := testConfig()
	cfg.FolderTemplate = FolderNone
	cfg.Duplicate = DuplicateID7

	p1 := CanonicalStillPath(asset1, rendition, cfg)
	p2 := CanonicalStillPath(asset2, rendition, cfg)

	assert.NotEqual(t, p1, p2)
	assert.Contains(t, string(p1), "IMG_0001_")
	assert.Contains(t, string(p2), "IMG_0001_")
}

func TestCanonicalLiveVideoPath_Suffix(t *testing.T) {
	still := Path("/out/IMG_1234.HEIC")
	path := CanonicalLiveVideoPath(&icloud.Asset{}, still, testConfig())

	assert.Equal(t, Path("/out/IMG_1234_HEVC.MOV"), path)
}

func TestCanonicalLiveVideoPath_Original(t *testing.T) {
	still := Path("/out/IMG_1234.HEIC")
	cfg := testConfig()
	cfg.LivePhoto = LiveOriginal

	path := CanonicalLiveVideoPath(&icloud.Asset{}, still, cfg)

	assert.Equal(t, Path("/out/IMG_1234.MOV"), path)
}

func TestAdmissiblePaths_IncludesCanonical(t *testing.T) {
	asset := &icloud.Asset{ID: "a", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), HasTZ: true}
	rendition := &icloud.Rendition{Size: icloud.SizeOriginal, Filename: "IMG_1234.HEIC"}
	cfg := testConfig()
	cfg.LegacyTemplates = []string{FolderNone}

	paths := AdmissiblePaths(asset, rendition, cfg)

	require.Len(t, paths, 2)
	assert.Equal(t, CanonicalStillPath(asset, rendition, cfg), paths[0])
}

func TestSanitizeFilename_ForbiddenChars(t *testing.T) {
	name := SanitizeFilename("id", `weird:name?.jpg`, UnicodeKeep)
	assert.Equal(t, "weird_name_.jpg", name)
}

func TestSanitizeFilename_StripUnicode(t *testing.T) {
	name := SanitizeFilename("id", "café.jpg", UnicodeStrip)
	assert.Equal(t, "caf.jpg", name)
}
