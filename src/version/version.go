package version

// Version is the CLI version string. Overridden at build time via
// -ldflags "-X homelab-backup/src/version.Version=...".
var Version = "0.3.0"
