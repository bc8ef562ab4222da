package cmd

// buildVersion is stamped at link time via -ldflags; "dev" outside release builds.
var buildVersion = "dev"

// Version reports the build version of the running binary.
func Version() string {
	return buildVersion
}
