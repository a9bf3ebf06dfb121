package helm

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/pkgmirror/pkgmirror"
)

func TestCmp(t *testing.T) {
	p := New(nil)
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.4", -1},
		{"2.0.0", "2.0.0", 0},
		{"10.0.0", "9.0.0", 1},
		{"1.0.0-rc.1", "1.0.0", -1},
	}
	for _, tc := range tests {
		got := p.Cmp(tc.a, tc.b)
		switch {
		case tc.want < 0 && got >= 0,
			tc.want == 0 && got != 0,
			tc.want > 0 && got <= 0:
			t.Errorf("Cmp(%q, %q) = %d, want sign %d", tc.a, tc.b, got, tc.want)
		}
	}
}

const indexFixture = `apiVersion: v1
entries:
  nginx:
    - name: nginx
      version: 15.1.0
      appVersion: 1.25.1
      description: NGINX Open Source
      digest: f2ca1bb6c7e907d06dafe4687e579fce76b37e4e93b7605022da52e6ccc26fd2
      urls:
        - charts/nginx-15.1.0.tgz
    - name: nginx
      version: 15.0.2
      digest: sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
      urls:
        - charts/nginx-15.0.2.tgz
`

func TestParseIndex(t *testing.T) {
	cands, err := parseIndex(strings.NewReader(indexFixture))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("parsed %d charts, want 2", len(cands))
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].Item.Version > cands[j].Item.Version })
	c := cands[0]
	if c.Item.Name != "nginx" || c.Item.Version != "15.1.0" {
		t.Errorf("parsed %s %s", c.Item.Name, c.Item.Version)
	}
	if c.Item.Filename != "nginx-15.1.0.tgz" {
		t.Errorf("filename %q", c.Item.Filename)
	}
	if c.Item.Metadata["app_version"] != "1.25.1" {
		t.Errorf("metadata %v", c.Item.Metadata)
	}
	// The sha256: prefix form must normalize to bare hex.
	if cands[1].Item.SHA256 != "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08" {
		t.Errorf("digest %q", cands[1].Item.SHA256)
	}
}

func TestPublishRegeneratesIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := New(nil)

	items := []pkgmirror.ContentItem{
		{
			SHA256:   "f2ca1bb6c7e907d06dafe4687e579fce76b37e4e93b7605022da52e6ccc26fd2",
			Filename: "nginx-15.1.0.tgz",
			Size:     45000,
			Type:     pkgmirror.TypeHelm,
			Name:     "nginx",
			Version:  "15.1.0",
		},
		{
			SHA256:   "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			Filename: "nginx-15.0.2.tgz",
			Size:     44000,
			Type:     pkgmirror.TypeHelm,
			Name:     "nginx",
			Version:  "15.0.2",
		},
	}
	link := func(sha, filename, dst string) error {
		return os.WriteFile(dst, []byte(sha), 0o644)
	}
	if err := p.Publish(ctx, items, link, dir); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "index.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cands, err := parseIndex(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("regenerated index lists %d charts, want 2", len(cands))
	}
	for _, c := range cands {
		if strings.Contains(c.Href, "/") {
			t.Errorf("regenerated URL %q not relative", c.Href)
		}
		if _, err := os.Stat(filepath.Join(dir, c.Item.Filename)); err != nil {
			t.Errorf("chart %s not linked: %v", c.Item.Filename, err)
		}
	}
}
