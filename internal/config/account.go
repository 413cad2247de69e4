// Package config implements the layered multi-account configuration
// model of spec.md §4.9 (C9): a TOML file holding one `[default]`
// block plus a repeated `[[account]]` array-of-tables, merged
// field-by-field into one Resolved value per account. This mirrors
// the teacher's internal/config package (global sections merged with
// per-profile overrides via BurntSushi/toml) but merges per *field*
// rather than per *section* — spec.md §4.9 layers at the level of
// individual CLI options ("Any option appearing before the first
// --username contributes to defaults"), which the teacher's
// whole-section replace doesn't model, so Account uses pointer fields
// instead of the teacher's pointer-to-section fields (see DESIGN.md).
package config

// Account is one `[[account]]` table, or the `[default]` table when
// used as the base every account merges against. A nil pointer field
// means "not set here, inherit the default"; for [default] itself a
// nil field falls back to the hardcoded program default in Resolve.
type Account struct {
	Username string `toml:"username"`

	Directory       *string `toml:"directory,omitempty"`
	FolderStructure *string `toml:"folder_structure,omitempty"`
	UseOSLocale     *bool   `toml:"use_os_locale,omitempty"`

	Albums            []string `toml:"album,omitempty"`
	Library           *string  `toml:"library,omitempty"`
	Recent            *int     `toml:"recent,omitempty"`
	UntilFound        *int     `toml:"until_found,omitempty"`
	SkipVideos        *bool    `toml:"skip_videos,omitempty"`
	SkipPhotos        *bool    `toml:"skip_photos,omitempty"`
	SkipLivePhotos    *bool    `toml:"skip_live_photos,omitempty"`
	SkipCreatedBefore *string  `toml:"skip_created_before,omitempty"`
	SkipCreatedAfter  *string  `toml:"skip_created_after,omitempty"`

	Sizes              []string `toml:"size,omitempty"`
	ForceSize          *bool    `toml:"force_size,omitempty"`
	LivePhotoSize      *string  `toml:"live_photo_size,omitempty"`
	LivePhotoMovPolicy *string  `toml:"live_photo_mov_filename_policy,omitempty"`
	AlignRaw           *string  `toml:"align_raw,omitempty"`

	FileMatchPolicy        *string `toml:"file_match_policy,omitempty"`
	KeepUnicodeInFilenames *bool   `toml:"keep_unicode_in_filenames,omitempty"`

	AutoDelete           *bool `toml:"auto_delete,omitempty"`
	DeleteAfterDownload  *bool `toml:"delete_after_download,omitempty"`
	KeepICloudRecentDays *int  `toml:"keep_icloud_recent_days,omitempty"`

	SetExifDatetime    *bool `toml:"set_exif_datetime,omitempty"`
	XMPSidecar         *bool `toml:"xmp_sidecar,omitempty"`
	DryRun             *bool `toml:"dry_run,omitempty"`
	OnlyPrintFilenames *bool `toml:"only_print_filenames,omitempty"`

	WatchWithInterval *string `toml:"watch_with_interval,omitempty"`

	Password         *string  `toml:"password,omitempty"`
	PasswordProvider []string `toml:"password_provider,omitempty"`
	MfaProvider      *string  `toml:"mfa_provider,omitempty"`
	CookieDirectory  *string  `toml:"cookie_directory,omitempty"`
	AuthOnly         *bool    `toml:"auth_only,omitempty"`
	Domain           *string  `toml:"domain,omitempty"`

	NotificationEmail     *string `toml:"notification_email,omitempty"`
	NotificationEmailFrom *string `toml:"notification_email_from,omitempty"`
	SMTPHost              *string `toml:"smtp_host,omitempty"`
	SMTPPort              *int    `toml:"smtp_port,omitempty"`
	SMTPUsername          *string `toml:"smtp_username,omitempty"`
	SMTPPassword          *string `toml:"smtp_password,omitempty"`
	NotificationScript    *string `toml:"notification_script,omitempty"`
}

// File is the on-disk TOML document: one default block plus zero or
// more account blocks. The same username may appear in multiple
// account blocks (e.g. one directory for photos, another for videos),
// producing distinct Resolved configurations (spec.md §4.9).
type File struct {
	Default  Account   `toml:"default"`
	Accounts []Account `toml:"account"`
}

func firstString(override *string, fallback string) string {
	if override != nil {
		return *override
	}

	return fallback
}

func firstBool(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}

	return fallback
}

func firstInt(override *int, fallback int) int {
	if override != nil {
		return *override
	}

	return fallback
}

func firstStrings(override, fallback []string) []string {
	if override != nil {
		return override
	}

	return fallback
}

// mergeInto layers override's non-nil fields on top of base, producing
// a new Account with no unset field left behind that base didn't
// already provide. Used to merge [[account]] over [default] before
// the hardcoded-default pass in Resolve.
func mergeInto(base, override Account) Account {
	merged := base
	merged.Username = override.Username

	merged.Directory = coalesce(override.Directory, base.Directory)
	merged.FolderStructure = coalesce(override.FolderStructure, base.FolderStructure)
	merged.UseOSLocale = coalesceBool(override.UseOSLocale, base.UseOSLocale)

	merged.Albums = firstStrings(override.Albums, base.Albums)
	merged.Library = coalesce(override.Library, base.Library)
	merged.Recent = coalesceInt(override.Recent, base.Recent)
	merged.UntilFound = coalesceInt(override.UntilFound, base.UntilFound)
	merged.SkipVideos = coalesceBool(override.SkipVideos, base.SkipVideos)
	merged.SkipPhotos = coalesceBool(override.SkipPhotos, base.SkipPhotos)
	merged.SkipLivePhotos = coalesceBool(override.SkipLivePhotos, base.SkipLivePhotos)
	merged.SkipCreatedBefore = coalesce(override.SkipCreatedBefore, base.SkipCreatedBefore)
	merged.SkipCreatedAfter = coalesce(override.SkipCreatedAfter, base.SkipCreatedAfter)

	merged.Sizes = firstStrings(override.Sizes, base.Sizes)
	merged.ForceSize = coalesceBool(override.ForceSize, base.ForceSize)
	merged.LivePhotoSize = coalesce(override.LivePhotoSize, base.LivePhotoSize)
	merged.LivePhotoMovPolicy = coalesce(override.LivePhotoMovPolicy, base.LivePhotoMovPolicy)
	merged.AlignRaw = coalesce(override.AlignRaw, base.AlignRaw)

	merged.FileMatchPolicy = coalesce(override.FileMatchPolicy, base.FileMatchPolicy)
	merged.KeepUnicodeInFilenames = coalesceBool(override.KeepUnicodeInFilenames, base.KeepUnicodeInFilenames)

	merged.AutoDelete = coalesceBool(override.AutoDelete, base.AutoDelete)
	merged.DeleteAfterDownload = coalesceBool(override.DeleteAfterDownload, base.DeleteAfterDownload)
	merged.KeepICloudRecentDays = coalesceInt(override.KeepICloudRecentDays, base.KeepICloudRecentDays)

	merged.SetExifDatetime = coalesceBool(override.SetExifDatetime, base.SetExifDatetime)
	merged.XMPSidecar = coalesceBool(override.XMPSidecar, base.XMPSidecar)
	merged.DryRun = coalesceBool(override.DryRun, base.DryRun)
	merged.OnlyPrintFilenames = coalesceBool(override.OnlyPrintFilenames, base.OnlyPrintFilenames)

	merged.WatchWithInterval = coalesce(override.WatchWithInterval, base.WatchWithInterval)

	merged.Password = coalesce(override.Password, base.Password)
	merged.PasswordProvider = firstStrings(override.PasswordProvider, base.PasswordProvider)
	merged.MfaProvider = coalesce(override.MfaProvider, base.MfaProvider)
	merged.CookieDirectory = coalesce(override.CookieDirectory, base.CookieDirectory)
	merged.AuthOnly = coalesceBool(override.AuthOnly, base.AuthOnly)
	merged.Domain = coalesce(override.Domain, base.Domain)

	merged.NotificationEmail = coalesce(override.NotificationEmail, base.NotificationEmail)
	merged.NotificationEmailFrom = coalesce(override.NotificationEmailFrom, base.NotificationEmailFrom)
	merged.SMTPHost = coalesce(override.SMTPHost, base.SMTPHost)
	merged.SMTPPort = coalesceInt(override.SMTPPort, base.SMTPPort)
	merged.SMTPUsername = coalesce(override.SMTPUsername, base.SMTPUsername)
	merged.SMTPPassword = coalesce(override.SMTPPassword, base.SMTPPassword)
	merged.NotificationScript = coalesce(override.NotificationScript, base.NotificationScript)

	return merged
}

func coalesce(override, base *string) *string {
	if override != nil {
		return override
	}

	return base
}

func coalesceBool(override, base *bool) *bool {
	if override != nil {
		return override
	}

	return base
}

func coalesceInt(override, base *int) *int {
	if override != nil {
		return override
	}

	return base
}
