package apk

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// indexEntry is one APKINDEX stanza. The single-letter keys are
// apk-tools' own; only the ones the mirror carries are listed.
type indexEntry struct {
	Checksum      string // C: Q1-prefixed base64 SHA-1 of the control segment
	Name          string // P
	Version       string // V
	Arch          string // A
	Size          int64  // S
	InstalledSize string // I
	Description   string // T
	URL           string // U
	License       string // L
	Origin        string // o
	Maintainer    string // m
	BuildTime     string // t
	Commit        string // c
	Depends       string // D
	Provides      string // p
}

// parseIndex reads an APKINDEX.tar.gz stream and returns candidates for
// the given architecture.
//
// Alpine indexes carry only a SHA-1 control checksum, so the candidates
// have no SHA256; identity is (name, version, arch) until the package
// is actually downloaded and hashed.
func parseIndex(r io.Reader, arch string) ([]driver.Candidate, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("apk: %w: APKINDEX.tar.gz: %w", pkgmirror.ErrUpstreamParse, err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		h, err := tr.Next()
		switch {
		case err == io.EOF:
			return nil, fmt.Errorf("apk: %w: archive has no APKINDEX member", pkgmirror.ErrUpstreamParse)
		case err != nil:
			return nil, fmt.Errorf("apk: %w: reading archive: %w", pkgmirror.ErrUpstreamParse, err)
		}
		if h.Name == "APKINDEX" {
			break
		}
	}

	entries, err := parseStanzas(tr)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Candidate, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" || e.Version == "" {
			return nil, fmt.Errorf("apk: %w: stanza missing P or V", pkgmirror.ErrUpstreamParse)
		}
		a := e.Arch
		if a == "" {
			a = arch
		}
		fn := e.Name + "-" + e.Version + ".apk"
		md := map[string]string{}
		for k, v := range map[string]string{
			"apk_checksum":   e.Checksum,
			"installed_size": e.InstalledSize,
			"description":    e.Description,
			"url":            e.URL,
			"license":        e.License,
			"origin":         e.Origin,
			"maintainer":     e.Maintainer,
			"build_time":     e.BuildTime,
			"commit":         e.Commit,
			"depends":        e.Depends,
			"provides":       e.Provides,
		} {
			if v != "" {
				md[k] = v
			}
		}
		out = append(out, driver.Candidate{
			Item: pkgmirror.ContentItem{
				Filename: fn,
				Size:     e.Size,
				Type:     pkgmirror.TypeAPK,
				Name:     e.Name,
				Version:  e.Version,
				Arch:     a,
				Metadata: md,
			},
			Href:        arch + "/" + fn,
			PublishPath: arch + "/" + fn,
		})
	}
	return out, nil
}

// parseStanzas splits an APKINDEX body into entries. Stanzas are
// blank-line separated; keys are case sensitive single letters, so
// textproto is no help here.
func parseStanzas(r io.Reader) ([]indexEntry, error) {
	var (
		out []indexEntry
		cur indexEntry
		any bool
	)
	flush := func() {
		if any {
			out = append(out, cur)
			cur = indexEntry{}
			any = false
		}
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := s.Text()
		if line == "" {
			flush()
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			return nil, fmt.Errorf("apk: %w: malformed index line %q", pkgmirror.ErrUpstreamParse, line)
		}
		v := line[2:]
		any = true
		switch line[0] {
		case 'C':
			cur.Checksum = v
		case 'P':
			cur.Name = v
		case 'V':
			cur.Version = v
		case 'A':
			cur.Arch = v
		case 'S':
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("apk: %w: bad size %q: %w", pkgmirror.ErrUpstreamParse, v, err)
			}
			cur.Size = n
		case 'I':
			cur.InstalledSize = v
		case 'T':
			cur.Description = v
		case 'U':
			cur.URL = v
		case 'L':
			cur.License = v
		case 'o':
			cur.Origin = v
		case 'm':
			cur.Maintainer = v
		case 't':
			cur.BuildTime = v
		case 'c':
			cur.Commit = v
		case 'D':
			cur.Depends = v
		case 'p':
			cur.Provides = v
		default:
			// apk-tools adds keys over time; ignore the rest.
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("apk: %w: scanning index: %w", pkgmirror.ErrUpstreamParse, err)
	}
	flush()
	return out, nil
}

// writeIndex produces an APKINDEX.tar.gz for one architecture. The
// archive layout matches apk-tools' unsigned output: a DESCRIPTION
// member followed by the APKINDEX body.
func writeIndex(w io.Writer, description string, entries []indexEntry) error {
	var body bytes.Buffer
	for _, e := range entries {
		writeField(&body, 'C', e.Checksum)
		writeField(&body, 'P', e.Name)
		writeField(&body, 'V', e.Version)
		writeField(&body, 'A', e.Arch)
		if e.Size > 0 {
			writeField(&body, 'S', strconv.FormatInt(e.Size, 10))
		}
		writeField(&body, 'I', e.InstalledSize)
		writeField(&body, 'T', e.Description)
		writeField(&body, 'U', e.URL)
		writeField(&body, 'L', e.License)
		writeField(&body, 'o', e.Origin)
		writeField(&body, 'm', e.Maintainer)
		writeField(&body, 't', e.BuildTime)
		writeField(&body, 'c', e.Commit)
		writeField(&body, 'D', e.Depends)
		writeField(&body, 'p', e.Provides)
		body.WriteByte('\n')
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	now := time.Now()
	members := []struct {
		name string
		data []byte
	}{
		{"DESCRIPTION", []byte(description)},
		{"APKINDEX", body.Bytes()},
	}
	for _, m := range members {
		hdr := &tar.Header{
			Name:    m.name,
			Mode:    0o644,
			Size:    int64(len(m.data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("apk: writing %s header: %w", m.name, err)
		}
		if _, err := tw.Write(m.data); err != nil {
			return fmt.Errorf("apk: writing %s: %w", m.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("apk: closing archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("apk: closing archive: %w", err)
	}
	return nil
}

func writeField(b *bytes.Buffer, key byte, val string) {
	if val == "" {
		return
	}
	b.WriteByte(key)
	b.WriteByte(':')
	b.WriteString(val)
	b.WriteByte('\n')
}
