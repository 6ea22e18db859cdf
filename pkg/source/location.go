package source

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Schemes understood by Resolve.
const (
	SchemeFile = "file"
	SchemeSFTP = "sftp"
)

// Location is a parsed workbook location.
type Location struct {
	// Raw is the location as given.
	Raw string

	// Scheme is "file" or "sftp".
	Scheme string

	// User and Password come from the URL userinfo, if any.
	User     string
	Password string

	// Host and Port address the SFTP server. Port is 0 when unset.
	Host string
	Port int

	// Path is the local path or the remote absolute path.
	Path string
}

// ParseLocation parses a plain path, a file:// URL or an
// sftp://[user[:password]@]host[:port]/path URL.
func ParseLocation(raw string) (Location, error) {
	loc := Location{Raw: raw}
	if raw == "" {
		return loc, fmt.Errorf("empty location")
	}

	scheme, _, found := strings.Cut(raw, "://")
	if !found || strings.ContainsAny(scheme, `/\`) || len(scheme) < 2 {
		// Plain paths, including Windows drive letters.
		loc.Scheme = SchemeFile
		loc.Path = filepath.Clean(raw)
		return loc, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return loc, fmt.Errorf("invalid location %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case SchemeFile:
		loc.Scheme = SchemeFile
		loc.Path = filepath.FromSlash(u.Path)
		if loc.Path == "" {
			return loc, fmt.Errorf("file location %q has no path", raw)
		}
	case SchemeSFTP:
		loc.Scheme = SchemeSFTP
		loc.Host = u.Hostname()
		if loc.Host == "" {
			return loc, fmt.Errorf("sftp location %q has no host", raw)
		}
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil || port <= 0 || port > 65535 {
				return loc, fmt.Errorf("invalid port in %q", raw)
			}
			loc.Port = port
		}
		if u.User != nil {
			loc.User = u.User.Username()
			loc.Password, _ = u.User.Password()
		}
		loc.Path = u.Path
		if loc.Path == "" || loc.Path == "/" {
			return loc, fmt.Errorf("sftp location %q has no path", raw)
		}
	default:
		return loc, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return loc, nil
}

// String returns the location without its password.
func (l Location) String() string {
	if l.Scheme != SchemeSFTP {
		return l.Path
	}
	u := url.URL{Scheme: SchemeSFTP, Host: l.Host, Path: l.Path}
	if l.Port != 0 {
		u.Host = l.Host + ":" + strconv.Itoa(l.Port)
	}
	if l.User != "" {
		u.User = url.User(l.User)
	}
	return u.String()
}

// Name is the base name of the workbook file.
func (l Location) Name() string {
	if l.Scheme == SchemeSFTP {
		return l.Path[strings.LastIndex(l.Path, "/")+1:]
	}
	return filepath.Base(l.Path)
}
