package types

import "strings"

// WellKnownModule describes a Go vanity import prefix whose source repository
// can be derived without asking the module proxy.
type WellKnownModule struct {
	Prefix string
	// Mirror returns the repository for the path segment(s) following Prefix,
	// or false when the path does not map.
	Mirror func(rest string) (RepoID, bool)
}

func firstSegment(rest string) string {
	if i := strings.IndexByte(rest, '/'); i != -1 {
		return rest[:i]
	}
	return rest
}

func githubUnder(owner string) func(string) (RepoID, bool) {
	return func(rest string) (RepoID, bool) {
		name := firstSegment(rest)
		if name == "" {
			return RepoID{}, false
		}
		return RepoID{Host: "github.com", Owner: owner, Name: name}, true
	}
}

func fixedRepo(owner, name string) func(string) (RepoID, bool) {
	return func(string) (RepoID, bool) {
		return RepoID{Host: "github.com", Owner: owner, Name: name}, true
	}
}

// gopkgIn maps gopkg.in/pkg.v3 to go-pkg/pkg and gopkg.in/user/pkg.v3 to user/pkg.
func gopkgIn(rest string) (RepoID, bool) {
	parts := strings.Split(rest, "/")
	strip := func(s string) string {
		if i := strings.Index(s, ".v"); i > 0 {
			return s[:i]
		}
		return s
	}
	switch {
	case len(parts) >= 1 && strings.Contains(parts[0], ".v"):
		name := strip(parts[0])
		return RepoID{Host: "github.com", Owner: "go-" + name, Name: name}, true
	case len(parts) >= 2 && strings.Contains(parts[1], ".v"):
		return RepoID{Host: "github.com", Owner: parts[0], Name: strip(parts[1])}, true
	}
	return RepoID{}, false
}

// WellKnownModules is the registry of vanity prefixes the Go metadata source
// consults before the module proxy.
var WellKnownModules = []WellKnownModule{
	{
		Prefix: "golang.org/x/",
		Mirror: githubUnder("golang"),
	},
	{
		Prefix: "google.golang.org/grpc",
		Mirror: fixedRepo("grpc", "grpc-go"),
	},
	{
		Prefix: "google.golang.org/protobuf",
		Mirror: fixedRepo("protocolbuffers", "protobuf-go"),
	},
	{
		Prefix: "cloud.google.com/go",
		Mirror: fixedRepo("googleapis", "google-cloud-go"),
	},
	{
		Prefix: "go.uber.org/",
		Mirror: githubUnder("uber-go"),
	},
	{
		Prefix: "gopkg.in/",
		Mirror: gopkgIn,
	},
	{
		Prefix: "k8s.io/",
		Mirror: githubUnder("kubernetes"),
	},
	{
		Prefix: "sigs.k8s.io/",
		Mirror: githubUnder("kubernetes-sigs"),
	},
}

// GetWellKnownModule returns the entry whose prefix matches modulePath, or nil.
func GetWellKnownModule(modulePath string) *WellKnownModule {
	for i := range WellKnownModules {
		if strings.HasPrefix(modulePath, WellKnownModules[i].Prefix) {
			return &WellKnownModules[i]
		}
	}
	return nil
}

// MirrorRepo returns the source repository a well-known vanity path lives in.
func MirrorRepo(modulePath string) (RepoID, bool) {
	m := GetWellKnownModule(modulePath)
	if m == nil || m.Mirror == nil {
		return RepoID{}, false
	}
	return m.Mirror(strings.TrimPrefix(strings.TrimPrefix(modulePath, m.Prefix), "/"))
}
