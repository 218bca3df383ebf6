package app

import "fmt"

// Version and Commit can be overridden at build time:
// go build -ldflags "-X llmtokens/internal/app.Version=v0.2.0 -X llmtokens/internal/app.Commit=abcdef0" ./cmd/llmtokens
var (
	Version = "v0.1.0"
	Commit  = "dev"
)

func VersionString() string {
	return fmt.Sprintf("llmtokens %s (%s)", Version, Commit)
}
