package types

import (
	"strings"
	"unicode"
)

// Ecosystem names the package index a dependency comes from.
type Ecosystem string

const (
	EcosystemPyPI Ecosystem = "pypi"
	EcosystemGo   Ecosystem = "go"
)

// Dependency is one manifest entry.
type Dependency struct {
	Name      string    `json:"name"`
	Version   string    `json:"version,omitempty"`
	Ecosystem Ecosystem `json:"ecosystem"`
}

// Label classifies where a candidate URL appeared in package metadata.
type Label int

const (
	LabelUnlabeled Label = iota
	LabelSource
	LabelHomepage
	LabelDocs
	LabelIssueTracker
)

func (l Label) String() string {
	switch l {
	case LabelSource:
		return "source"
	case LabelHomepage:
		return "homepage"
	case LabelDocs:
		return "docs"
	case LabelIssueTracker:
		return "issue-tracker"
	default:
		return "unlabeled"
	}
}

// Candidate is a raw URL taken from package metadata together with its label.
type Candidate struct {
	URL   string
	Label Label
}

// Label vocabularies, matched against whole words or word sequences of the
// lower-cased label.
var (
	ignoredPhrases = []string{"code of conduct", "funding", "sponsor", "donate", "donation"}
	trackerPhrases = []string{"tracker", "bugtracker", "issue", "issues", "bug", "bugs", "bug reports"}
	docsPhrases    = []string{"doc", "docs", "documentation", "readthedocs", "wiki", "changelog", "changes", "release notes", "history"}
	sourcePhrases  = []string{"source", "sources", "source code", "sourcecode", "code", "repository", "repo", "github", "gitlab", "bitbucket"}
	homePhrases    = []string{"homepage", "home", "home page", "website"}
)

// ClassifyLabel maps a free-form metadata label such as "Source Code" or
// "Bug Tracker" onto a Label. Docs and tracker words win over source ones
// so that "GitHub Issues" is an issue tracker, not a repository.
func ClassifyLabel(raw string) Label {
	words := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return LabelUnlabeled
	}
	s := " " + strings.Join(words, " ") + " "
	switch {
	case hasPhrase(s, ignoredPhrases):
		return LabelUnlabeled
	case hasPhrase(s, trackerPhrases):
		return LabelIssueTracker
	case hasPhrase(s, docsPhrases):
		return LabelDocs
	case hasPhrase(s, sourcePhrases):
		return LabelSource
	case hasPhrase(s, homePhrases):
		return LabelHomepage
	}
	return LabelUnlabeled
}

// hasPhrase reports whether the space-padded word sequence s contains one
// of phrases on word boundaries.
func hasPhrase(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, " "+p+" ") {
			return true
		}
	}
	return false
}
