package modelref

import (
	"errors"
	"fmt"
)

// ParseErrorKind classifies malformed locators.
type ParseErrorKind int

const (
	Empty ParseErrorKind = iota
	MissingOwnerRepo
	MissingFilename
)

func (k ParseErrorKind) String() string {
	switch k {
	case Empty:
		return "empty reference"
	case MissingOwnerRepo:
		return "expected 'owner/repo'"
	case MissingFilename:
		return "missing filename; provide 'owner/repo:path/to/file.gguf'"
	default:
		return "invalid reference"
	}
}

// ParseError reports a locator that could not be parsed.
type ParseError struct {
	Input string
	Kind  ParseErrorKind
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid model reference %q: %s", e.Input, e.Kind)
}

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// ResolutionError reports an alias with no matching artifact in a listing.
type ResolutionError struct {
	Alias      string
	Repository string
}

func (e *ResolutionError) Error() string {
	if e.Repository == "" {
		return fmt.Sprintf("no %s file matches alias %q", ArtifactExt, e.Alias)
	}
	return fmt.Sprintf("no %s file matches alias %q in %s", ArtifactExt, e.Alias, e.Repository)
}

// IsNoMatch reports whether err is (or wraps) a *ResolutionError.
func IsNoMatch(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
