// Package parser reads dependency manifests into a list of dependencies.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/johnsaigle/zombie-detector/pkg/metadata"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/morikuni/failure/v2"
	"github.com/samber/lo"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
)

// ErrorCode classifies manifest failures.
type ErrorCode string

const (
	ErrManifestNotFound    ErrorCode = "ManifestNotFound"
	ErrUnsupportedManifest ErrorCode = "UnsupportedManifest"
	ErrInvalidManifest     ErrorCode = "InvalidManifest"
)

// Options controls parsing.
type Options struct {
	// IncludeIndirect keeps go.mod requirements marked // indirect.
	IncludeIndirect bool
	// Logger receives a debug line for every skipped entry.
	Logger *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.New(io.Discard)
	}
	return o.Logger
}

// ParseFile parses the manifest at path, choosing the format by file name:
// go.mod, pyproject.toml, or any *.txt as a pip requirements file.
func ParseFile(path string, opts Options) ([]types.Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure.Wrap(err, failure.WithCode(ErrManifestNotFound),
				failure.Message("Manifest file not found"),
				failure.Context{"path": path})
		}
		return nil, failure.Wrap(err, failure.Message("Failed to read manifest"),
			failure.Context{"path": path})
	}

	base := filepath.Base(path)
	switch {
	case base == "go.mod":
		return ParseGoMod(path, data, opts)
	case base == "pyproject.toml":
		return ParsePyProject(data, opts)
	case strings.HasSuffix(base, ".txt"):
		return ParseRequirements(bytes.NewReader(data), opts)
	default:
		return nil, failure.New(ErrUnsupportedManifest,
			failure.Message("Unsupported manifest type"),
			failure.Context{"path": path})
	}
}

// requirementRE matches a PEP 508 name, optional extras, and the rest.
var requirementRE = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[[^\]]*\])?\s*(.*)$`)

// ParseRequirements reads a pip requirements file. Comments, options (-r,
// -e, --hash and friends), URL and path installs, and unparsable lines are
// skipped. Environment markers are dropped. Duplicate names keep their first
// occurrence.
func ParseRequirements(r io.Reader, opts Options) ([]types.Dependency, error) {
	var (
		deps []types.Dependency
		buf  strings.Builder
	)
	logger := opts.logger()

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.HasSuffix(strings.TrimRight(line, " \t"), `\`) {
			buf.WriteString(strings.TrimSuffix(strings.TrimRight(line, " \t"), `\`))
			buf.WriteString(" ")
			continue
		}
		buf.WriteString(line)
		full := buf.String()
		buf.Reset()

		dep, ok := parseRequirement(full)
		if !ok {
			if s := stripComment(full); s != "" {
				logger.Debug("skipping requirement line", "line", lineNo, "text", s)
			}
			continue
		}
		deps = append(deps, dep)
	}
	if err := sc.Err(); err != nil {
		return nil, failure.Wrap(err, failure.WithCode(ErrInvalidManifest),
			failure.Message("Failed to read requirements"))
	}
	// A trailing backslash on the last line leaves text in buf.
	if buf.Len() > 0 {
		if dep, ok := parseRequirement(buf.String()); ok {
			deps = append(deps, dep)
		}
	}
	return dedupe(deps), nil
}

func stripComment(s string) string {
	if i := strings.Index(s, "#"); i != -1 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func parseRequirement(raw string) (types.Dependency, bool) {
	s := stripComment(raw)
	if s == "" || strings.HasPrefix(s, "-") {
		return types.Dependency{}, false
	}
	if strings.Contains(s, "://") && !strings.Contains(s, "@") {
		return types.Dependency{}, false
	}
	if strings.HasPrefix(s, ".") || strings.HasPrefix(s, "/") || strings.HasPrefix(s, "git+") {
		return types.Dependency{}, false
	}
	if i := strings.Index(s, " --"); i != -1 {
		s = strings.TrimSpace(s[:i])
	}
	if i := strings.Index(s, ";"); i != -1 {
		s = strings.TrimSpace(s[:i])
	}

	m := requirementRE.FindStringSubmatch(s)
	if m == nil {
		return types.Dependency{}, false
	}
	version := strings.TrimSpace(m[2])
	if strings.HasPrefix(version, "@") {
		// Direct reference: the name is real but there is no version constraint.
		version = ""
	}
	if version != "" && !strings.ContainsAny(version[:1], "=<>!~(") {
		return types.Dependency{}, false
	}
	version = strings.Trim(version, "()")
	return types.Dependency{Name: m[1], Version: strings.TrimSpace(version), Ecosystem: types.EcosystemPyPI}, true
}

type pyProject struct {
	Project struct {
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// ParsePyProject reads [project].dependencies and
// [tool.poetry.dependencies] from a pyproject.toml, in document order.
func ParsePyProject(data []byte, opts Options) ([]types.Dependency, error) {
	var doc pyProject
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, failure.Wrap(err, failure.WithCode(ErrInvalidManifest),
			failure.Message("Failed to parse pyproject.toml"))
	}

	var deps []types.Dependency
	for _, req := range doc.Project.Dependencies {
		if dep, ok := parseRequirement(req); ok {
			deps = append(deps, dep)
		} else {
			opts.logger().Debug("skipping requirement", "text", req)
		}
	}

	for _, name := range poetryNames(md) {
		if strings.EqualFold(name, "python") {
			continue
		}
		dep := types.Dependency{Name: name, Ecosystem: types.EcosystemPyPI}
		switch v := doc.Tool.Poetry.Dependencies[name].(type) {
		case string:
			dep.Version = v
		case map[string]any:
			if s, ok := v["version"].(string); ok {
				dep.Version = s
			}
			if _, isPath := v["path"]; isPath {
				continue
			}
			if _, isGit := v["git"]; isGit {
				continue
			}
		}
		deps = append(deps, dep)
	}
	return dedupe(deps), nil
}

// poetryNames lists the keys of [tool.poetry.dependencies] as they appear in
// the file.
func poetryNames(md toml.MetaData) []string {
	var names []string
	for _, key := range md.Keys() {
		if len(key) == 4 && key[0] == "tool" && key[1] == "poetry" && key[2] == "dependencies" {
			names = append(names, key[3])
		}
	}
	return lo.Uniq(names)
}

// ParseGoMod reads the require block of a go.mod. Replacements pointing at
// another module are followed; local path replacements drop the requirement.
func ParseGoMod(path string, data []byte, opts Options) ([]types.Dependency, error) {
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, failure.Wrap(err, failure.WithCode(ErrInvalidManifest),
			failure.Message("Failed to parse go.mod"))
	}

	replaced := make(map[string]module.Version, len(f.Replace))
	for _, r := range f.Replace {
		replaced[r.Old.Path] = r.New
	}

	var deps []types.Dependency
	for _, req := range f.Require {
		if req.Indirect && !opts.IncludeIndirect {
			continue
		}
		mod := req.Mod
		if r, ok := replaced[mod.Path]; ok {
			if r.Version == "" {
				opts.logger().Debug("skipping locally replaced module", "module", mod.Path)
				continue
			}
			mod = r
		}
		deps = append(deps, types.Dependency{Name: mod.Path, Version: mod.Version, Ecosystem: types.EcosystemGo})
	}
	return dedupe(deps), nil
}

func dedupe(deps []types.Dependency) []types.Dependency {
	return lo.UniqBy(deps, func(d types.Dependency) string {
		if d.Ecosystem == types.EcosystemPyPI {
			return metadata.NormalizePyPIName(d.Name)
		}
		return d.Name
	})
}
