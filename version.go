package promptlift

// Version information for the promptlift enhancement core
const (
	// Version is the current library version
	Version = "development"

	// APIVersion is the current API version
	APIVersion = "v1"

	// BuildDate is set during build time
	BuildDate = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"
)
