package version

// Version is the tankobon release, set at build time via ldflags.
// Example: go build -ldflags "-X github.com/tankobon/tankobon/pkg/version.Version=0.3.0" ./cmd/tankobon.
var Version = "dev"
