package deb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkgmirror/pkgmirror"
)

// release is a parsed Release or InRelease document.
type release struct {
	Codename      string
	Suite         string
	Components    []string
	Architectures []string
	// Files is the SHA256 stanza: every file the release enumerates,
	// with paths relative to the dists/<dist>/ directory.
	Files []releaseFile
}

type releaseFile struct {
	SHA256 string
	Size   int64
	Path   string
}

// parseRelease reads an RFC 822-style Release body. InRelease clearsign
// armor is stripped transparently; the signature is not verified here,
// mirror mode carries it through byte-identical instead.
func parseRelease(r io.Reader) (*release, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	rel := &release{}
	inSig := false
	armored := false
	field := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "-----BEGIN PGP SIGNED MESSAGE-----"):
			armored = true
			// The armor header block ("Hash: ...") runs to the first
			// blank line.
			for sc.Scan() && sc.Text() != "" {
			}
			continue
		case strings.HasPrefix(line, "-----BEGIN PGP SIGNATURE-----"):
			inSig = true
			continue
		case strings.HasPrefix(line, "-----END PGP SIGNATURE-----"):
			inSig = false
			continue
		}
		if inSig {
			continue
		}
		if armored && strings.HasPrefix(line, "- ") {
			// Dash-escaped line inside clearsigned text.
			line = line[2:]
		}

		switch {
		case strings.HasPrefix(line, " "):
			// Continuation. Only the SHA256 stanza matters to us.
			if field != "SHA256" {
				continue
			}
			f := strings.Fields(line)
			if len(f) != 3 {
				continue
			}
			size, err := strconv.ParseInt(f[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("deb: %w: bad size in SHA256 stanza: %w", pkgmirror.ErrUpstreamParse, err)
			}
			rel.Files = append(rel.Files, releaseFile{SHA256: f[0], Size: size, Path: f[2]})
		case strings.Contains(line, ":"):
			k, v, _ := strings.Cut(line, ":")
			field = k
			v = strings.TrimSpace(v)
			switch k {
			case "Codename":
				rel.Codename = v
			case "Suite":
				rel.Suite = v
			case "Components":
				rel.Components = strings.Fields(v)
			case "Architectures":
				rel.Architectures = strings.Fields(v)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("deb: %w: reading release: %w", pkgmirror.ErrUpstreamParse, err)
	}
	if rel.Codename == "" && rel.Suite == "" {
		return nil, fmt.Errorf("deb: %w: release names no codename or suite", pkgmirror.ErrUpstreamParse)
	}
	return rel, nil
}
