package rpm

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// primary.xml parsing. The document can run to tens of thousands of
// <package> elements, so decoding is streamed one element at a time
// instead of unmarshaling the whole tree.

type primaryPackage struct {
	Type    string `xml:"type,attr"`
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Checksum struct {
		Type string `xml:"type,attr"`
		Sum  string `xml:",chardata"`
	} `xml:"checksum"`
	Summary     string `xml:"summary"`
	Description string `xml:"description"`
	URL         string `xml:"url"`
	Time        struct {
		Build int64 `xml:"build,attr"`
	} `xml:"time"`
	Size struct {
		Package   int64 `xml:"package,attr"`
		Installed int64 `xml:"installed,attr"`
		Archive   int64 `xml:"archive,attr"`
	} `xml:"size"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Format struct {
		License   string `xml:"license"`
		Vendor    string `xml:"vendor"`
		Group     string `xml:"group"`
		BuildHost string `xml:"buildhost"`
		SourceRPM string `xml:"sourcerpm"`
	} `xml:"format"`
}

// parsePrimary streams package entries out of a decompressed primary.xml
// and converts each into a candidate.
func parsePrimary(r io.Reader) ([]driver.Candidate, error) {
	dec := xml.NewDecoder(r)
	var out []driver.Candidate
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rpm: %w: primary.xml: %w", pkgmirror.ErrUpstreamParse, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "package" {
			continue
		}
		var p primaryPackage
		if err := dec.DecodeElement(&p, &se); err != nil {
			return nil, fmt.Errorf("rpm: %w: package element: %w", pkgmirror.ErrUpstreamParse, err)
		}
		c, err := p.candidate()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *primaryPackage) candidate() (driver.Candidate, error) {
	if p.Checksum.Type != "sha256" {
		return driver.Candidate{}, fmt.Errorf("rpm: %w: package %q has %s checksum, need sha256",
			pkgmirror.ErrUpstreamParse, p.Name, p.Checksum.Type)
	}
	if !pkgmirror.ValidSHA256(p.Checksum.Sum) {
		return driver.Candidate{}, fmt.Errorf("rpm: %w: package %q has malformed checksum",
			pkgmirror.ErrUpstreamParse, p.Name)
	}
	href := p.Location.Href
	md := map[string]string{
		"epoch":   p.Version.Epoch,
		"release": p.Version.Rel,
		"href":    href,
	}
	if p.Summary != "" {
		md["summary"] = p.Summary
	}
	if p.Format.License != "" {
		md["license"] = p.Format.License
	}
	if p.Format.Group != "" {
		md["group"] = p.Format.Group
	}
	if p.Format.SourceRPM != "" {
		md["sourcerpm"] = p.Format.SourceRPM
	}
	if p.Format.Vendor != "" {
		md["vendor"] = p.Format.Vendor
	}
	if p.Time.Build != 0 {
		md["buildtime"] = strconv.FormatInt(p.Time.Build, 10)
	}
	return driver.Candidate{
		Item: pkgmirror.ContentItem{
			SHA256:   p.Checksum.Sum,
			Filename: basename(href),
			Size:     p.Size.Package,
			Type:     pkgmirror.TypeRPM,
			Name:     p.Name,
			Version:  evr(p.Version.Epoch, p.Version.Ver, p.Version.Rel),
			Arch:     p.Arch,
			Metadata: md,
		},
		Href:        href,
		PublishPath: href,
	}, nil
}

func basename(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
