// Package version holds build information set via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/livedata/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/livedata/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

// Set at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Product names the coordinator in outbound requests.
const Product = "livedata-coordinator"

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent returns the User-Agent sent to REST APIs.
func UserAgent() string {
	return Product + "/" + Version + " (" + Commit + ")"
}
