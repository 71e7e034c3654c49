// Package modelref parses registry model locators of the form
// owner/repo[@revision][:file] and resolves short filename aliases against a
// registry file listing.
package modelref

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultRevision is used when a locator carries no @revision part.
	DefaultRevision = "main"
	// DefaultBaseURL is the registry host used by DownloadURL.
	DefaultBaseURL = "https://huggingface.co"
	// ArtifactExt is the extension of loadable model files.
	ArtifactExt = ".gguf"
)

// Reference identifies one file in a registry repository.
// File may hold an unresolved alias (no '.' and no '/') until Resolve is called.
type Reference struct {
	Repository string `json:"repository"`
	Revision   string `json:"revision"`
	File       string `json:"file"`
}

// Parse accepts owner/repo:file, owner/repo@revision:file and
// owner/repo/path/to/file.
func Parse(text string) (Reference, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reference{}, &ParseError{Input: text, Kind: Empty}
	}

	left, right, hasFile := strings.Cut(text, ":")
	repoPart, revision, hasRev := strings.Cut(left, "@")
	if !hasRev || revision == "" {
		revision = DefaultRevision
	}

	segs := strings.Split(repoPart, "/")
	if len(segs) < 2 || segs[0] == "" || segs[1] == "" {
		return Reference{}, &ParseError{Input: text, Kind: MissingOwnerRepo}
	}
	ref := Reference{
		Repository: segs[0] + "/" + segs[1],
		Revision:   revision,
	}

	if hasFile {
		ref.File = strings.Trim(right, "/")
	}
	if ref.File == "" && len(segs) > 2 {
		ref.File = strings.Trim(strings.Join(segs[2:], "/"), "/")
	}
	if ref.File == "" {
		return Reference{}, &ParseError{Input: text, Kind: MissingFilename}
	}
	return ref, nil
}

// MustParse is Parse for compile-time constants; it panics on error.
func MustParse(text string) Reference {
	ref, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return ref
}

// Owner returns the part of Repository before the slash.
func (r Reference) Owner() string {
	owner, _, _ := strings.Cut(r.Repository, "/")
	return owner
}

// Name returns the part of Repository after the slash.
func (r Reference) Name() string {
	_, name, _ := strings.Cut(r.Repository, "/")
	return name
}

// NeedsResolution reports whether File is a short alias rather than a path.
func (r Reference) NeedsResolution() bool {
	return !strings.Contains(r.File, ".") && !strings.Contains(r.File, "/")
}

// Filename is the last path segment of File; artifacts are cached under it.
func (r Reference) Filename() string {
	if i := strings.LastIndex(r.File, "/"); i >= 0 {
		return r.File[i+1:]
	}
	return r.File
}

// DownloadURL is URL against the default registry.
func (r Reference) DownloadURL() string {
	return r.URL(DefaultBaseURL)
}

// URL builds the artifact download URL for the given registry base.
// Repository, revision and file are placed in the path verbatim.
func (r Reference) URL(base string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s?download=1",
		strings.TrimRight(base, "/"), r.Repository, r.Revision, r.File)
}

// String renders the reference in owner/repo@revision:file form.
func (r Reference) String() string {
	var b strings.Builder
	b.WriteString(r.Repository)
	if r.Revision != "" && r.Revision != DefaultRevision {
		b.WriteByte('@')
		b.WriteString(r.Revision)
	}
	if r.File != "" {
		b.WriteByte(':')
		b.WriteString(r.File)
	}
	return b.String()
}

// Resolve returns a copy of r with an alias File replaced by the concrete
// filename chosen from listing. It is a no-op for concrete files.
func (r Reference) Resolve(listing []string) (Reference, error) {
	if !r.NeedsResolution() {
		return r, nil
	}
	name, err := ResolveAlias(r.File, listing)
	if err != nil {
		if re, ok := err.(*ResolutionError); ok {
			re.Repository = r.Repository
		}
		return r, err
	}
	out := r
	out.File = name
	return out, nil
}

// ResolveAlias picks the artifact in listing that an alias refers to.
//
// Candidates contain the alias (case-insensitive) and end in ArtifactExt. A
// candidate ending in alias+ArtifactExt wins; otherwise the shortest name wins,
// since extra qualifiers usually mark a different quantization variant.
func ResolveAlias(alias string, listing []string) (string, error) {
	want := strings.ToLower(alias)
	var candidates []string
	for _, name := range listing {
		lower := strings.ToLower(name)
		if strings.Contains(lower, want) && strings.HasSuffix(lower, ArtifactExt) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", &ResolutionError{Alias: alias}
	}

	suffix := want + ArtifactExt
	for _, name := range candidates {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			return name, nil
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if len(candidates[i]) != len(candidates[j]) {
			return len(candidates[i]) < len(candidates[j])
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], nil
}
