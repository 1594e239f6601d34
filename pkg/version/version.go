// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/NicolasHaas/townhall/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/townhall/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/townhall/pkg/version.date=2026-01-01"
package version

// Populated by -ldflags "-X ...". Defaults are used for local dev builds.
var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// Info describes the running build.
type Info struct {
	Tag    string `json:"tag,omitempty"`
	Commit string `json:"commit"`
	Date   string `json:"date"`
}

// Get returns the build info of this binary.
func Get() Info {
	return Info{Tag: tag, Commit: commit, Date: date}
}

// String returns the tag, else the commit, else "dev".
func (i Info) String() string {
	switch {
	case i.Tag != "":
		return i.Tag
	case i.Commit != "unknown":
		return i.Commit
	default:
		return "dev"
	}
}

// Full returns "tag (commit) built date" or a shorter fallback.
func (i Info) Full() string {
	switch {
	case i.Tag != "":
		return i.Tag + " (" + i.Commit + ") built " + i.Date
	case i.Commit != "unknown":
		return i.Commit + " built " + i.Date
	default:
		return "dev"
	}
}

// String is Get().String().
func String() string { return Get().String() }

// Full is Get().Full().
func Full() string { return Get().Full() }
