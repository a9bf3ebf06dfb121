package deb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// parsePackages reads a Packages index: RFC 822 paragraphs separated by
// blank lines. component is recorded on each item for publish-time pool
// layout.
func parsePackages(r io.Reader, component string) ([]driver.Candidate, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []driver.Candidate
	para := make(map[string]string)
	field := ""
	flush := func() error {
		if len(para) == 0 {
			return nil
		}
		c, err := paragraphCandidate(para, component)
		if err != nil {
			return err
		}
		out = append(out, c)
		para = make(map[string]string)
		return nil
	}
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return nil, err
			}
		case line[0] == ' ' || line[0] == '\t':
			// Continuation; long descriptions are not carried.
			_ = field
		default:
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("deb: %w: malformed Packages line %q", pkgmirror.ErrUpstreamParse, line)
			}
			field = k
			para[k] = strings.TrimSpace(v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("deb: %w: reading Packages: %w", pkgmirror.ErrUpstreamParse, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func paragraphCandidate(para map[string]string, component string) (driver.Candidate, error) {
	name := para["Package"]
	sum := strings.ToLower(para["SHA256"])
	if name == "" || para["Version"] == "" || para["Filename"] == "" {
		return driver.Candidate{}, fmt.Errorf("deb: %w: paragraph missing Package, Version, or Filename", pkgmirror.ErrUpstreamParse)
	}
	if !pkgmirror.ValidSHA256(sum) {
		return driver.Candidate{}, fmt.Errorf("deb: %w: package %q has no usable SHA256", pkgmirror.ErrUpstreamParse, name)
	}
	size, err := strconv.ParseInt(para["Size"], 10, 64)
	if err != nil {
		return driver.Candidate{}, fmt.Errorf("deb: %w: package %q has bad Size: %w", pkgmirror.ErrUpstreamParse, name, err)
	}

	md := map[string]string{"component": component}
	for _, k := range []string{"Depends", "Section", "Priority", "Maintainer", "Source", "Homepage", "Description"} {
		if v := para[k]; v != "" {
			md[k] = v
		}
	}
	fn := para["Filename"]
	return driver.Candidate{
		Item: pkgmirror.ContentItem{
			SHA256:   sum,
			Filename: basename(fn),
			Size:     size,
			Type:     pkgmirror.TypeDEB,
			Name:     name,
			Version:  para["Version"],
			Arch:     para["Architecture"],
			Metadata: md,
		},
		Href:        fn,
		PublishPath: fn,
	}, nil
}

func basename(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
