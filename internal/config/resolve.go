package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/tonimelisma/icloudpd-go/internal/downloader"
	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/iterator"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
	"github.com/tonimelisma/icloudpd-go/internal/reconcile"
	"github.com/tonimelisma/icloudpd-go/internal/selector"
	"github.com/tonimelisma/icloudpd-go/internal/syncloop"
)

// Hardcoded program defaults, applied only where neither [default] nor
// an [[account]] block set a value.
const (
	defaultFolderStructure = "{:%Y/%m/%d}"
	defaultLibrary         = "PrimarySync"
	defaultFileMatchPolicy = "name-size-dedup-with-suffix"
	defaultLivePhotoPolicy = "suffix"
	defaultAlignRaw        = "original"
	defaultDomain          = "com"
	defaultMfaProvider     = "console"
	defaultCookieDirName   = ".icloudpd-go"
	defaultPageSize        = 100
)

// defaultPasswordProviderOrder is used when an account sets no
// password_provider list: try a directly-configured parameter first,
// then the OS keyring, then an interactive console prompt.
var defaultPasswordProviderOrder = []string{"parameter", "keyring", "console"}

// Resolved is one fully-materialized account configuration: the
// output of C9's layering, and the input every other component in
// this repo consumes (spec.md §6 "the core accepts a resolved Config
// value").
type Resolved struct {
	Username  string
	Directory string

	Naming    naming.Config
	Selector  selector.Config
	Iterator  iterator.Config
	Reconcile reconcile.Config
	Download  downloader.Options
	SyncLoop  syncloop.Config

	PasswordParameter string
	PasswordProvider  []string
	MfaProvider       string
	CookieDirectory   string
	AuthOnly          bool
	Domain            string

	NotificationEmail     string
	NotificationEmailFrom string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	NotificationScript    string
}

// Resolve merges f.Default into every f.Accounts entry and applies
// hardcoded program defaults to whatever is still unset, producing one
// Resolved value per [[account]] block in declaration order (spec.md
// §4.9: "The driver runs configurations sequentially").
func Resolve(f *File) ([]Resolved, error) {
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("config: no [[account]] blocks defined")
	}

	out := make([]Resolved, 0, len(f.Accounts))

	for i, acct := range f.Accounts {
		if acct.Username == "" {
			return nil, fmt.Errorf("config: account block %d has no username", i)
		}

		merged := mergeInto(f.Default, acct)

		resolved, err := resolveOne(merged)
		if err != nil {
			return nil, fmt.Errorf("config: account %q: %w", acct.Username, err)
		}

		out = append(out, resolved)
	}

	return out, nil
}

func resolveOne(a Account) (Resolved, error) {
	directory := firstString(a.Directory, ".")

	folderTemplate := firstString(a.FolderStructure, defaultFolderStructure)

	unicodePolicy := naming.UnicodeKeep
	if !firstBool(a.KeepUnicodeInFilenames, true) {
		unicodePolicy = naming.UnicodeStrip
	}

	dupPolicy, err := parseDuplicatePolicy(firstString(a.FileMatchPolicy, defaultFileMatchPolicy))
	if err != nil {
		return Resolved{}, err
	}

	livePolicy, err := parseLivePhotoPolicy(firstString(a.LivePhotoMovPolicy, defaultLivePhotoPolicy))
	if err != nil {
		return Resolved{}, err
	}

	alignRaw, err := parseAlignRaw(firstString(a.AlignRaw, defaultAlignRaw))
	if err != nil {
		return Resolved{}, err
	}

	namingCfg := naming.Config{
		Directory:      directory,
		FolderTemplate: folderTemplate,
		Unicode:        unicodePolicy,
		Duplicate:      dupPolicy,
		LivePhoto:      livePolicy,
		AlignRaw:       alignRaw,
	}

	sizes, err := parseSizeList(a.Sizes)
	if err != nil {
		return Resolved{}, err
	}

	livePhotoSize := icloud.SizeOriginal
	if firstString(a.LivePhotoSize, "") != "" {
		livePhotoSize = icloud.SizeTag(*a.LivePhotoSize)
	}

	selectorCfg := selector.Config{
		Sizes:          sizes,
		ForceSize:      firstBool(a.ForceSize, false),
		AlignRaw:       alignRaw,
		SkipLivePhotos: firstBool(a.SkipLivePhotos, false),
		LivePhotoSize:  livePhotoSize,
	}

	skipBefore, err := parseOptionalDate(a.SkipCreatedBefore)
	if err != nil {
		return Resolved{}, err
	}

	skipAfter, err := parseOptionalDate(a.SkipCreatedAfter)
	if err != nil {
		return Resolved{}, err
	}

	iteratorCfg := iterator.Config{
		LibraryID:         firstString(a.Library, defaultLibrary),
		AlbumIDs:          a.Albums,
		PageSize:          defaultPageSize,
		RecentN:           firstInt(a.Recent, 0),
		UntilFoundN:       firstInt(a.UntilFound, 0),
		SkipCreatedBefore: skipBefore,
		SkipCreatedAfter:  skipAfter,
		SkipPhotos:        firstBool(a.SkipPhotos, false),
		SkipVideos:        firstBool(a.SkipVideos, false),
		SkipLivePhotos:    firstBool(a.SkipLivePhotos, false),
	}

	mode, keepDays, legacyDelete := resolveMode(a)

	reconcileCfg := reconcile.Config{
		Mode:                      mode,
		KeepRecentDays:            keepDays,
		DeleteAfterDownloadLegacy: legacyDelete,
		DryRun:                    firstBool(a.DryRun, false),
		OnlyPrintFilenames:        firstBool(a.OnlyPrintFilenames, false),
	}

	downloadOpt := downloader.Options{
		WriteXMPSidecar: firstBool(a.XMPSidecar, false),
		SetExifDatetime: firstBool(a.SetExifDatetime, false),
	}

	watchInterval, err := parseOptionalDuration(a.WatchWithInterval)
	if err != nil {
		return Resolved{}, err
	}

	loopCfg := syncloop.Config{
		Username:      a.Username,
		Iterator:      iteratorCfg,
		WatchInterval: watchInterval,
	}

	cookieDir := firstString(a.CookieDirectory, defaultCookieDirName)

	return Resolved{
		Username:  a.Username,
		Directory: directory,

		Naming:    namingCfg,
		Selector:  selectorCfg,
		Iterator:  iteratorCfg,
		Reconcile: reconcileCfg,
		Download:  downloadOpt,
		SyncLoop:  loopCfg,

		PasswordParameter: firstString(a.Password, ""),
		PasswordProvider:  firstStrings(a.PasswordProvider, defaultPasswordProviderOrder),
		MfaProvider:       firstString(a.MfaProvider, defaultMfaProvider),
		CookieDirectory:   cookieDir,
		AuthOnly:          firstBool(a.AuthOnly, false),
		Domain:            firstString(a.Domain, defaultDomain),

		NotificationEmail:     firstString(a.NotificationEmail, ""),
		NotificationEmailFrom: firstString(a.NotificationEmailFrom, ""),
		SMTPHost:              firstString(a.SMTPHost, ""),
		SMTPPort:              firstInt(a.SMTPPort, 587),
		SMTPUsername:          firstString(a.SMTPUsername, ""),
		SMTPPassword:          firstString(a.SMTPPassword, ""),
		NotificationScript:    firstString(a.NotificationScript, ""),
	}, nil
}

// resolveMode implements the Mode Copy/Sync/Move selection and the
// legacy delete-after-download mapping (spec.md §4.6, §9 Open
// Questions: delete-after-download restricts deletion to assets
// downloaded in the *current* pass, never a pre-existing backlog).
func resolveMode(a Account) (mode reconcile.Mode, keepDays *int, legacyDelete bool) {
	switch {
	case a.KeepICloudRecentDays != nil:
		return reconcile.ModeMove, a.KeepICloudRecentDays, false
	case firstBool(a.DeleteAfterDownload, false):
		zero := 0

		return reconcile.ModeMove, &zero, true
	case firstBool(a.AutoDelete, false):
		return reconcile.ModeSync, nil, false
	default:
		return reconcile.ModeCopy, nil, false
	}
}

func parseDuplicatePolicy(s string) (naming.DuplicatePolicy, error) {
	switch s {
	case "name-size-dedup-with-suffix":
		return naming.DuplicateSizeSuffix, nil
	case "name-id7":
		return naming.DuplicateID7, nil
	default:
		return 0, fmt.Errorf("invalid file_match_policy %q", s)
	}
}

func parseLivePhotoPolicy(s string) (naming.LivePhotoPolicy, error) {
	switch s {
	case "suffix":
		return naming.LiveSuffix, nil
	case "original":
		return naming.LiveOriginal, nil
	default:
		return 0, fmt.Errorf("invalid live_photo_mov_filename_policy %q", s)
	}
}

func parseAlignRaw(s string) (naming.AlignRawPolicy, error) {
	switch s {
	case "original":
		return naming.AlignRawIsOriginal, nil
	case "alternative":
		return naming.AlignJPEGIsOriginal, nil
	case "as-is":
		return naming.AlignAsIs, nil
	default:
		return 0, fmt.Errorf("invalid align_raw %q", s)
	}
}

func parseSizeList(sizes []string) ([]icloud.SizeTag, error) {
	if len(sizes) == 0 {
		return []icloud.SizeTag{icloud.SizeOriginal}, nil
	}

	out := make([]icloud.SizeTag, 0, len(sizes))

	for _, s := range sizes {
		switch icloud.SizeTag(s) {
		case icloud.SizeOriginal, icloud.SizeMedium, icloud.SizeThumb, icloud.SizeAdjusted, icloud.SizeAlternative:
			out = append(out, icloud.SizeTag(s))
		default:
			return nil, fmt.Errorf("invalid size %q", s)
		}
	}

	return out, nil
}

func parseOptionalDate(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", *s, err)
	}

	return t, nil
}

func parseOptionalDuration(s *string) (time.Duration, error) {
	if s == nil || *s == "" {
		return 0, nil
	}

	d, err := ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("invalid watch_with_interval %q: %w", *s, err)
	}

	return d, nil
}

// durationPattern matches durations like "30m", "2h", "1d", "1h30m".
var durationPattern = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// dayUnitRe extracts each numeric+unit pair once durationPattern has
// confirmed the whole string is well-formed.
var dayUnitRe = regexp.MustCompile(`(\d+)([dhms])`)

// hoursPerDay converts day durations to hours; Go's time.ParseDuration
// has no "d" unit.
const hoursPerDay = 24

// ParseDuration parses a human-friendly duration: standard Go duration
// syntax (e.g. "2h30m") plus a "d" suffix for days, since
// watch_with_interval is as often expressed in days as in hours.
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}

		return d, nil
	}

	if s == "" || !durationPattern.MatchString(s) {
		return 0, fmt.Errorf("expected format like 30m, 2h, 1d, or 1h30m")
	}

	var total time.Duration

	for _, match := range dayUnitRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", match[1], err)
		}

		switch match[2] {
		case "d":
			total += time.Duration(n) * hoursPerDay * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}

	return total, nil
}
