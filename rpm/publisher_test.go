package rpm

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/pkgmirror/pkgmirror"
)

func TestPublishRegeneratesRepodata(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := New(nil)

	items := []pkgmirror.ContentItem{
		{
			SHA256:   "f2ca1bb6c7e907d06dafe4687e579fce76b37e4e93b7605022da52e6ccc26fd2",
			Filename: "vim-common-9.0.2120-1.el9.x86_64.rpm",
			Size:     7570432,
			Type:     pkgmirror.TypeRPM,
			Name:     "vim-common",
			Version:  "2:9.0.2120-1.el9",
			Arch:     "x86_64",
			Metadata: map[string]string{"license": "Vim", "group": "Applications/Editors"},
		},
		{
			SHA256:   "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			Filename: "vim-filesystem-9.0.2120-1.el9.noarch.rpm",
			Size:     18232,
			Type:     pkgmirror.TypeRPM,
			Name:     "vim-filesystem",
			Version:  "2:9.0.2120-1.el9",
			Arch:     "noarch",
		},
	}

	var linked []string
	link := func(sha, filename, dst string) error {
		linked = append(linked, dst)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dst, []byte(sha), 0o644)
	}

	if err := p.Publish(ctx, items, link, dir); err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(dir, "Packages", "v", "vim-common-9.0.2120-1.el9.x86_64.rpm")
	sort.Strings(linked)
	if linked[0] != want {
		t.Errorf("linked %q, want %q", linked[0], want)
	}

	// The repomd must point at the generated documents with correct
	// hashes and sizes.
	b, err := os.ReadFile(filepath.Join(dir, "repodata", "repomd.xml"))
	if err != nil {
		t.Fatal(err)
	}
	var md repoMD
	if err := xml.Unmarshal(b, &md); err != nil {
		t.Fatal(err)
	}
	if len(md.Data) != 3 {
		t.Fatalf("repomd has %d data entries, want 3 (primary, filelists, other)", len(md.Data))
	}
	var pri *repoMDData
	for i := range md.Data {
		d := &md.Data[i]
		path := filepath.Join(dir, filepath.FromSlash(d.Location.Href))
		sum, size, err := pkgmirror.HashFile(path)
		if err != nil {
			t.Fatalf("%s: %v", d.Type, err)
		}
		if sum != d.Checksum.Sum || size != d.Size {
			t.Errorf("%s: recorded (%s, %d), actual (%s, %d)", d.Type, d.Checksum.Sum, d.Size, sum, size)
		}
		if d.Type == "primary" {
			pri = d
		}
	}
	if pri == nil {
		t.Fatal("no primary entry")
	}

	// The regenerated primary must describe exactly the published set.
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(pri.Location.Href)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	cands, err := parsePrimary(zr)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != len(items) {
		t.Fatalf("primary lists %d packages, want %d", len(cands), len(items))
	}
	got := map[string]string{}
	for _, c := range cands {
		got[c.Item.Name] = c.Item.SHA256
	}
	for _, it := range items {
		if got[it.Name] != it.SHA256 {
			t.Errorf("%s: primary records sha %s, want %s", it.Name, got[it.Name], it.SHA256)
		}
	}
}
