package rpm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// Publish implements driver.Publisher.
//
// Packages are hardlinked under Packages/<first-letter>/ and the repodata
// documents (primary, filelists, other, repomd) are regenerated to
// describe exactly the published set. Nothing is signed.
func (p *Plugin) Publish(ctx context.Context, items []pkgmirror.ContentItem, link driver.LinkFunc, dir string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "rpm/Plugin.Publish")

	pri := genPrimary{
		XMLNS:    xmlnsCommon,
		XMLNSRPM: xmlnsRPM,
		Count:    len(items),
	}
	fl := genFilelists{XMLNS: xmlnsFiles, Count: len(items)}
	oth := genOther{XMLNS: xmlnsOther, Count: len(items)}

	for i := range items {
		it := &items[i]
		rel := packagePath(it.Filename)
		if err := link(it.SHA256, it.Filename, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("rpm: linking %s: %w", it.Filename, err)
		}
		epoch, ver, relv := splitEVR(it.Version)
		pri.Packages = append(pri.Packages, genPackage{
			Type:     "rpm",
			Name:     it.Name,
			Arch:     it.Arch,
			Version:  genVersion{Epoch: orZero(epoch), Ver: ver, Rel: relv},
			Checksum: genPkgChecksum{Type: "sha256", PkgID: "YES", Sum: it.SHA256},
			Summary:  it.Metadata["summary"],
			Size:     genSize{Package: it.Size},
			Location: mdLocation{Href: rel},
			Format: genFormat{
				License:   it.Metadata["license"],
				Group:     it.Metadata["group"],
				SourceRPM: it.Metadata["sourcerpm"],
			},
		})
		fl.Packages = append(fl.Packages, genFLPackage{
			PkgID: it.SHA256, Name: it.Name, Arch: it.Arch,
			Version: genVersion{Epoch: orZero(epoch), Ver: ver, Rel: relv},
		})
		oth.Packages = append(oth.Packages, genFLPackage{
			PkgID: it.SHA256, Name: it.Name, Arch: it.Arch,
			Version: genVersion{Epoch: orZero(epoch), Ver: ver, Rel: relv},
		})
	}

	repodata := filepath.Join(dir, "repodata")
	if err := os.MkdirAll(repodata, 0o755); err != nil {
		return fmt.Errorf("rpm: %w", err)
	}

	now := time.Now().Unix()
	md := genRepoMD{XMLNS: xmlnsRepo, XMLNSRPM: xmlnsRPM, Revision: now}
	for _, doc := range []struct {
		typ string
		v   any
	}{
		{"primary", &pri},
		{"filelists", &fl},
		{"other", &oth},
	} {
		entry, err := writeMetadata(repodata, doc.typ, doc.v, now)
		if err != nil {
			return err
		}
		md.Data = append(md.Data, *entry)
	}

	b, err := xml.MarshalIndent(&md, "", "  ")
	if err != nil {
		return fmt.Errorf("rpm: marshaling repomd: %w", err)
	}
	out := append([]byte(xml.Header), b...)
	if err := os.WriteFile(filepath.Join(repodata, "repomd.xml"), append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("rpm: writing repomd.xml: %w", err)
	}
	zlog.Info(ctx).Int("packages", len(items)).Msg("published")
	return nil
}

// packagePath is the published location of a package file:
// Packages/<first letter, lowercased>/<filename>.
func packagePath(filename string) string {
	l := "_"
	if filename != "" {
		l = strings.ToLower(filename[:1])
	}
	return "Packages/" + l + "/" + filename
}

// writeMetadata marshals doc, writes its gzipped form to
// repodata/<gzsum>-<type>.xml.gz, and returns the repomd entry recording
// both the open and compressed checksums and sizes.
func writeMetadata(repodata, typ string, doc any, ts int64) (*genRepoMDData, error) {
	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rpm: marshaling %s: %w", typ, err)
	}
	open := append([]byte(xml.Header), b...)
	open = append(open, '\n')
	openSum := sha256.Sum256(open)

	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	if _, err := zw.Write(open); err != nil {
		return nil, fmt.Errorf("rpm: compressing %s: %w", typ, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("rpm: compressing %s: %w", typ, err)
	}
	gzSum := sha256.Sum256(zbuf.Bytes())
	gzHex := hex.EncodeToString(gzSum[:])

	name := gzHex + "-" + typ + ".xml.gz"
	if err := os.WriteFile(filepath.Join(repodata, name), zbuf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("rpm: writing %s: %w", name, err)
	}
	return &genRepoMDData{
		Type:         typ,
		Checksum:     genChecksum{Type: "sha256", Sum: gzHex},
		OpenChecksum: genChecksum{Type: "sha256", Sum: hex.EncodeToString(openSum[:])},
		Location:     mdLocation{Href: "repodata/" + name},
		Timestamp:    ts,
		Size:         int64(zbuf.Len()),
		OpenSize:     int64(len(open)),
	}, nil
}

// splitEVR breaks an "epoch:version-release" string into its parts. The
// epoch and release may be absent.
func splitEVR(s string) (epoch, version, release string) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		epoch, s = s[:i], s[i+1:]
	}
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		s, release = s[:i], s[i+1:]
	}
	return epoch, s, release
}

func orZero(epoch string) string {
	if epoch == "" {
		return "0"
	}
	return epoch
}

// Generation-side document types.

type genPrimary struct {
	XMLName  xml.Name     `xml:"metadata"`
	XMLNS    string       `xml:"xmlns,attr"`
	XMLNSRPM string       `xml:"xmlns:rpm,attr"`
	Count    int          `xml:"packages,attr"`
	Packages []genPackage `xml:"package"`
}

type genPackage struct {
	Type     string         `xml:"type,attr"`
	Name     string         `xml:"name"`
	Arch     string         `xml:"arch"`
	Version  genVersion     `xml:"version"`
	Checksum genPkgChecksum `xml:"checksum"`
	Summary  string         `xml:"summary"`
	Size     genSize        `xml:"size"`
	Location mdLocation     `xml:"location"`
	Format   genFormat      `xml:"format"`
}

type genVersion struct {
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr,omitempty"`
}

type genPkgChecksum struct {
	Type  string `xml:"type,attr"`
	PkgID string `xml:"pkgid,attr"`
	Sum   string `xml:",chardata"`
}

type genSize struct {
	Package int64 `xml:"package,attr"`
}

type genFormat struct {
	License   string `xml:"rpm:license,omitempty"`
	Group     string `xml:"rpm:group,omitempty"`
	SourceRPM string `xml:"rpm:sourcerpm,omitempty"`
}

type genFilelists struct {
	XMLName  xml.Name       `xml:"filelists"`
	XMLNS    string         `xml:"xmlns,attr"`
	Count    int            `xml:"packages,attr"`
	Packages []genFLPackage `xml:"package"`
}

type genOther struct {
	XMLName  xml.Name       `xml:"otherdata"`
	XMLNS    string         `xml:"xmlns,attr"`
	Count    int            `xml:"packages,attr"`
	Packages []genFLPackage `xml:"package"`
}

type genFLPackage struct {
	PkgID   string     `xml:"pkgid,attr"`
	Name    string     `xml:"name,attr"`
	Arch    string     `xml:"arch,attr"`
	Version genVersion `xml:"version"`
}
