package dump

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// ToolVersion represents a mongodump version
type ToolVersion struct {
	Major int
	Minor int
	Patch int
	Full  string
}

var toolVersionPattern = regexp.MustCompile(`mongodump version:\s*r?(\d+)\.(\d+)\.(\d+)`)

// ParseToolVersion parses the first line printed by "mongodump --version".
func ParseToolVersion(versionStr string) (*ToolVersion, error) {
	matches := toolVersionPattern.FindStringSubmatch(versionStr)
	if len(matches) < 4 {
		return nil, fmt.Errorf("could not parse mongodump version from: %s", versionStr)
	}

	parts := make([]int, 3)
	for i := range parts {
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return nil, fmt.Errorf("invalid version component: %s", matches[i+1])
		}
		parts[i] = n
	}

	return &ToolVersion{
		Major: parts[0],
		Minor: parts[1],
		Patch: parts[2],
		Full:  strings.TrimSpace(strings.SplitN(versionStr, "\n", 2)[0]),
	}, nil
}

// GetToolVersion runs the binary with --version.
func GetToolVersion(ctx context.Context, binary string) (*ToolVersion, error) {
	// #nosec G204 -- binary comes from operator configuration
	output, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get mongodump version: %w", err)
	}
	return ParseToolVersion(string(output))
}

// wellKnownLocations are tried when the configured binary is not on PATH.
var wellKnownLocations = []string{
	"/usr/bin/mongodump",
	"/usr/local/bin/mongodump",
	"/opt/homebrew/bin/mongodump",
	`C:\Program Files\MongoDB\Tools\100\bin\mongodump.exe`,
}

// ResolveBinary finds an executable for the configured path. A path with a
// directory component must exist as given; a bare name is looked up on PATH
// and then in well-known install locations.
func ResolveBinary(path string) (string, error) {
	if path == "" {
		path = "mongodump"
	}

	if strings.ContainsAny(path, `/\`) {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("%w: mongodump binary %s: %w", ErrProcessFailed, path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%w: mongodump binary %s is a directory", ErrProcessFailed, path)
		}
		return path, nil
	}

	if found, err := exec.LookPath(path); err == nil {
		return found, nil
	}

	for _, candidate := range wellKnownLocations {
		if filepath.Base(candidate) != path && filepath.Base(candidate) != path+".exe" {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s not found on PATH", ErrProcessFailed, path)
}

// ParseExtraArgs splits the configured extra arguments with shell quoting rules.
func ParseExtraArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid mongodump options %q: %w", s, err)
	}
	return args, nil
}

var errUnparsableURI = errors.New("unparsable uri")

// RedactURI hides the password of a connection string for logging.
func RedactURI(uri string) string {
	redacted, err := redact(uri)
	if err != nil {
		// Multi-host URIs do not parse as URLs; drop everything before the host list.
		if at := strings.LastIndex(uri, "@"); at >= 0 {
			if scheme := strings.Index(uri, "://"); scheme >= 0 && scheme < at {
				return uri[:scheme+3] + "xxxxx@" + uri[at+1:]
			}
		}
		return uri
	}
	return redacted
}

func redact(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errUnparsableURI
	}
	return u.Redacted(), nil
}
