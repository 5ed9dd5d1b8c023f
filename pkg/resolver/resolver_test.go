package resolver

import (
	"testing"

	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func src(u string) types.Candidate  { return types.Candidate{URL: u, Label: types.LabelSource} }
func home(u string) types.Candidate { return types.Candidate{URL: u, Label: types.LabelHomepage} }
func bare(u string) types.Candidate { return types.Candidate{URL: u, Label: types.LabelUnlabeled} }

func TestResolve_NoHostMatch(t *testing.T) {
	r := New()
	sets := [][]types.Candidate{
		nil,
		{},
		{bare("https://libx.readthedocs.io/en/latest/")},
		{home("https://example.com"), src("https://pypi.org/project/libx")},
		{bare("not a url"), bare("")},
		{bare("ftp://github.com/acme/libx")},
	}
	for _, set := range sets {
		_, ok := r.Resolve(set)
		assert.False(t, ok, "%v", set)
	}
}

func TestNormalize_SurfaceVariants(t *testing.T) {
	r := New()
	want := types.RepoID{Host: "github.com", Owner: "acme", Name: "libx"}
	variants := []string{
		"https://github.com/acme/libx",
		"http://github.com/acme/libx",
		"https://www.github.com/acme/libx",
		"https://github.com/acme/libx/",
		"https://github.com/acme/libx.git",
		"https://www.github.com/acme/libx.git/",
		"github.com/acme/libx",
		"git+https://github.com/acme/libx.git",
		"git://github.com/acme/libx.git",
		"git@github.com:acme/libx.git",
		"ssh://git@github.com/acme/libx",
		"https://GitHub.com/Acme/LibX",
		"https://github.com/acme/libx/tree/main/src",
		"https://github.com/acme/libx#readme",
	}
	for _, v := range variants {
		t.Run(v, func(t *testing.T) {
			got, ok := r.Normalize(v)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	r := New()
	rejects := []string{
		"https://github.com/acme",
		"https://github.com/",
		"https://github.com/acme/libx/issues",
		"https://github.com/acme/libx/issues/12",
		"https://github.com/acme/libx/pulls",
		"https://github.com/acme/libx/wiki/Home",
		"https://github.com/sponsors/acme",
		"https://github.com/orgs/acme/people",
		"https://gitlab.com/acme/libx/-/issues",
		"https://example.org/acme/libx",
		"mailto:dev@acme.org",
	}
	for _, v := range rejects {
		t.Run(v, func(t *testing.T) {
			_, ok := r.Normalize(v)
			assert.False(t, ok)
		})
	}
}

func TestNormalize_GitLabSubgroups(t *testing.T) {
	r := New()
	got, ok := r.Normalize("https://gitlab.com/group/sub/proj/-/tree/main")
	require.True(t, ok)
	assert.Equal(t, types.RepoID{Host: "gitlab.com", Owner: "group/sub", Name: "proj"}, got)
}

func TestNormalize_CustomHosts(t *testing.T) {
	r := New("github.com")
	_, ok := r.Normalize("https://bitbucket.org/acme/libx")
	assert.False(t, ok)
	assert.Equal(t, []string{"github.com"}, r.Hosts())
}

func TestResolve_SourceBeatsUnlabeledInAnyOrder(t *testing.T) {
	r := New()
	labeled := src("https://github.com/acme/real")
	unlabeled := bare("https://github.com/acme/mirror")

	for _, set := range [][]types.Candidate{{labeled, unlabeled}, {unlabeled, labeled}} {
		got, ok := r.Resolve(set)
		require.True(t, ok)
		assert.Equal(t, "real", got.Name)
	}
}

func TestResolve_LookalikeLabelsDoNotOutrankHomepage(t *testing.T) {
	labelled := func(label, u string) types.Candidate {
		return types.Candidate{URL: u, Label: types.ClassifyLabel(label)}
	}
	for _, label := range []string{"Resources", "Report", "Code of Conduct"} {
		t.Run(label, func(t *testing.T) {
			id, ok := New().Resolve([]types.Candidate{
				labelled(label, "https://github.com/vinta/awesome-python"),
				labelled("Homepage", "https://github.com/acme/libx"),
			})
			require.True(t, ok)
			assert.Equal(t, "github.com/acme/libx", id.String())
		})
	}
}

func TestResolve_Priority(t *testing.T) {
	r := New()
	tests := []struct {
		name string
		in   []types.Candidate
		want string
	}{
		{
			name: "homepage beats unlabeled",
			in:   []types.Candidate{bare("https://github.com/a/unlabeled"), home("https://github.com/a/home")},
			want: "home",
		},
		{
			name: "source beats homepage",
			in:   []types.Candidate{home("https://github.com/a/home"), src("https://github.com/a/src")},
			want: "src",
		},
		{
			name: "ties go to first seen",
			in:   []types.Candidate{src("https://github.com/a/first"), src("https://github.com/a/second")},
			want: "first",
		},
		{
			name: "invalid source falls through to valid homepage",
			in:   []types.Candidate{src("https://example.com/a/b"), home("https://github.com/a/home")},
			want: "home",
		},
		{
			name: "docs and trackers ignored",
			in: []types.Candidate{
				{URL: "https://github.com/a/docs", Label: types.LabelDocs},
				{URL: "https://github.com/a/tracker", Label: types.LabelIssueTracker},
				bare("https://github.com/a/plain"),
			},
			want: "plain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestResolveURLs(t *testing.T) {
	got, ok := New().ResolveURLs([]string{"https://docs.acme.org", "https://bitbucket.org/acme/libx.git"})
	require.True(t, ok)
	assert.Equal(t, "bitbucket.org/acme/libx", got.String())
}
