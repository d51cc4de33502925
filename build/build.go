package build

// Set at link time with -ldflags "-X github.com/dutchcoders/nekoshield/build.ReleaseTag=...".
var (
	ReleaseTag = "dev"
	BuildDate  = "unknown"
)
