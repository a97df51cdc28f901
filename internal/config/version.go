package config

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
