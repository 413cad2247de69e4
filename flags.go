package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/icloudpd-go/internal/config"
)

// registerAccountFlags binds every CLI flag enumerated in spec.md §6 to
// cmd's flag set. These are the flags available when no --config file
// is given; a single invocation describes exactly one account, mirroring
// the teacher's one-drive-per-invocation CLI (each onedrive-go command
// acts on one --drive at a time). Multi-account layering (global
// defaults plus a repeated --username block) is handled by the TOML
// --config path via internal/config, which implements that layering
// model directly; see DESIGN.md.
func registerAccountFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.String("directory", "", "local root directory to sync into")
	f.String("folder-structure", "", `strftime folder template, or "none" for a flat directory`)
	f.Bool("use-os-locale", false, "render folder template month/day names in the OS locale")

	f.StringArray("album", nil, "restrict to this album (repeatable)")
	f.String("library", "", "shared library ID, or empty for the primary library")
	f.Int("recent", 0, "only consider the N most recently added assets")
	f.Int("until-found", 0, "stop after N consecutive already-downloaded assets")
	f.Bool("skip-videos", false, "skip video assets")
	f.Bool("skip-photos", false, "skip photo assets")
	f.Bool("skip-live-photos", false, "skip Live Photo assets")
	f.String("skip-created-before", "", "skip assets created before this date (YYYY-MM-DD)")
	f.String("skip-created-after", "", "skip assets created after this date (YYYY-MM-DD)")

	f.StringArray("size", nil, "rendition size to download (repeatable): original, medium, thumb, adjusted, alternative")
	f.Bool("force-size", false, "skip a requested size that is unavailable instead of falling back to original")
	f.String("live-photo-size", "", "rendition size for the Live Photo video component")
	f.String("live-photo-mov-filename-policy", "", "suffix or original")
	f.String("align-raw", "", "original, alternative, or as-is")

	f.String("file-match-policy", "", "name-size-dedup-with-suffix or name-id7")
	f.Bool("keep-unicode-in-filenames", true, "keep non-ASCII characters in generated filenames")

	f.Bool("auto-delete", false, "delete local files once the remote asset is gone")
	f.Bool("delete-after-download", false, "deprecated: move to Recently Deleted immediately after download")
	f.Int("keep-icloud-recent-days", -1, "keep only the N most recent days remotely, moving older assets to Recently Deleted")

	f.Bool("set-exif-datetime", false, "inject DateTimeOriginal into JPEGs lacking EXIF")
	f.Bool("xmp-sidecar", false, "write a .xmp sidecar alongside each asset")
	f.Bool("dry-run", false, "compute intents without touching the filesystem or remote service")
	f.Bool("only-print-filenames", false, "print the filename that would be downloaded and exit")

	f.String("watch-with-interval", "", "keep running, sleeping this long between passes (e.g. 1h, 1d)")

	f.StringArray("username", nil, "Apple ID to sync (repeatable: only the first is used without --config)")
	f.String("password", "", "account password")
	f.StringArray("password-provider", nil, "ordered credential sources: parameter, keyring, console, webui")
	f.String("mfa-provider", "", "console or webui")
	f.String("cookie-directory", "", "session store directory")
	f.Bool("auth-only", false, "authenticate and persist the session, then exit")
	f.String("domain", "", "com or cn")

	f.String("notification-email", "", "send an email to this address when re-authentication is required")
	f.String("notification-email-from", "", "From address for the re-authentication email")
	f.String("smtp-host", "", "SMTP server host")
	f.Int("smtp-port", 0, "SMTP server port")
	f.String("smtp-username", "", "SMTP auth username")
	f.String("smtp-password", "", "SMTP auth password")
	f.String("notification-script", "", "external script to run when re-authentication is required")
}

// accountFromFlags builds a single config.Account from whichever flags
// the user actually set, leaving every other field nil so config.Resolve
// falls back to hardcoded defaults. Only the first --username value is
// honored; use --config for multi-account layering.
func accountFromFlags(cmd *cobra.Command) (config.Account, error) {
	f := cmd.Flags()

	var a config.Account

	a.Directory = changedString(f, "directory")
	a.FolderStructure = changedString(f, "folder-structure")
	a.UseOSLocale = changedBool(f, "use-os-locale")

	if f.Changed("album") {
		a.Albums, _ = f.GetStringArray("album")
	}

	a.Library = changedString(f, "library")
	a.Recent = changedInt(f, "recent")
	a.UntilFound = changedInt(f, "until-found")
	a.SkipVideos = changedBool(f, "skip-videos")
	a.SkipPhotos = changedBool(f, "skip-photos")
	a.SkipLivePhotos = changedBool(f, "skip-live-photos")
	a.SkipCreatedBefore = changedString(f, "skip-created-before")
	a.SkipCreatedAfter = changedString(f, "skip-created-after")

	if f.Changed("size") {
		a.Sizes, _ = f.GetStringArray("size")
	}

	a.ForceSize = changedBool(f, "force-size")
	a.LivePhotoSize = changedString(f, "live-photo-size")
	a.LivePhotoMovPolicy = changedString(f, "live-photo-mov-filename-policy")
	a.AlignRaw = changedString(f, "align-raw")

	a.FileMatchPolicy = changedString(f, "file-match-policy")
	a.KeepUnicodeInFilenames = changedBool(f, "keep-unicode-in-filenames")

	a.AutoDelete = changedBool(f, "auto-delete")
	a.DeleteAfterDownload = changedBool(f, "delete-after-download")
	a.KeepICloudRecentDays = changedInt(f, "keep-icloud-recent-days")

	a.SetExifDatetime = changedBool(f, "set-exif-datetime")
	a.XMPSidecar = changedBool(f, "xmp-sidecar")
	a.DryRun = changedBool(f, "dry-run")
	a.OnlyPrintFilenames = changedBool(f, "only-print-filenames")

	a.WatchWithInterval = changedString(f, "watch-with-interval")

	if f.Changed("username") {
		usernames, _ := f.GetStringArray("username")
		if len(usernames) > 0 {
			a.Username = usernames[0]
		}
	}

	a.Password = changedString(f, "password")

	if f.Changed("password-provider") {
		a.PasswordProvider, _ = f.GetStringArray("password-provider")
	}

	a.MfaProvider = changedString(f, "mfa-provider")
	a.CookieDirectory = changedString(f, "cookie-directory")
	a.AuthOnly = changedBool(f, "auth-only")
	a.Domain = changedString(f, "domain")

	a.NotificationEmail = changedString(f, "notification-email")
	a.NotificationEmailFrom = changedString(f, "notification-email-from")
	a.SMTPHost = changedString(f, "smtp-host")
	a.SMTPPort = changedInt(f, "smtp-port")
	a.SMTPUsername = changedString(f, "smtp-username")
	a.SMTPPassword = changedString(f, "smtp-password")
	a.NotificationScript = changedString(f, "notification-script")

	return a, nil
}

func changedString(f interface {
	Changed(string) bool
	GetString(string) (string, error)
}, name string) *string {
	if !f.Changed(name) {
		return nil
	}

	v, _ := f.GetString(name)

	return &v
}

func changedBool(f interface {
	Changed(string) bool
	GetBool(string) (bool, error)
}, name string) *bool {
	if !f.Changed(name) {
		return nil
	}

	v, _ := f.GetBool(name)

	return &v
}

func changedInt(f interface {
	Changed(string) bool
	GetInt(string) (int, error)
}, name string) *int {
	if !f.Changed(name) {
		return nil
	}

	v, _ := f.GetInt(name)

	return &v
}
