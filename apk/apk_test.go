package apk

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

func TestCmp(t *testing.T) {
	p := New(nil, Config{})
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.3-r0", "1.2.3-r1", -1},
		{"1.2.3-r1", "1.2.3-r1", 0},
		{"1.10-r0", "1.9-r0", 1},
		{"1.0_rc1-r0", "1.0-r0", -1},
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

var fixtureEntries = []indexEntry{
	{
		Checksum:      "Q1pSz2C8/mFDnYf0qM5ZbUvGOQk8c=",
		Name:          "busybox",
		Version:       "1.36.1-r15",
		Arch:          "x86_64",
		Size:          507831,
		InstalledSize: "946176",
		Description:   "Size optimized toolbox of many common UNIX utilities",
		URL:           "https://busybox.net/",
		License:       "GPL-2.0-only",
		Origin:        "busybox",
		Maintainer:    "Sören Tempel <soeren+alpine@soeren-tempel.net>",
		BuildTime:     "1705163221",
		Commit:        "8d0429cfa4a9232751223c0f3cbb0e0a6332f5cf",
		Depends:       "so:libc.musl-x86_64.so.1",
		Provides:      "/bin/sh cmd:busybox=1.36.1-r15",
	},
	{
		Checksum: "Q17IFeGLmkd3G0+LplkSHHAYYsLtk=",
		Name:     "zlib",
		Version:  "1.3.1-r0",
		Arch:     "x86_64",
		Size:     53346,
		License:  "Zlib",
		Origin:   "zlib",
	},
}

func TestIndexRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeIndex(&buf, "test x86_64\n", fixtureEntries); err != nil {
		t.Fatal(err)
	}
	cands, err := parseIndex(&buf, "x86_64")
	if err != nil {
		t.Fatal(err)
	}

	want := []driver.Candidate{
		{
			Item: pkgmirror.ContentItem{
				Filename: "busybox-1.36.1-r15.apk",
				Size:     507831,
				Type:     pkgmirror.TypeAPK,
				Name:     "busybox",
				Version:  "1.36.1-r15",
				Arch:     "x86_64",
				Metadata: map[string]string{
					"apk_checksum":   "Q1pSz2C8/mFDnYf0qM5ZbUvGOQk8c=",
					"installed_size": "946176",
					"description":    "Size optimized toolbox of many common UNIX utilities",
					"url":            "https://busybox.net/",
					"license":        "GPL-2.0-only",
					"origin":         "busybox",
					"maintainer":     "Sören Tempel <soeren+alpine@soeren-tempel.net>",
					"build_time":     "1705163221",
					"commit":         "8d0429cfa4a9232751223c0f3cbb0e0a6332f5cf",
					"depends":        "so:libc.musl-x86_64.so.1",
					"provides":       "/bin/sh cmd:busybox=1.36.1-r15",
				},
			},
			Href:        "x86_64/busybox-1.36.1-r15.apk",
			PublishPath: "x86_64/busybox-1.36.1-r15.apk",
		},
		{
			Item: pkgmirror.ContentItem{
				Filename: "zlib-1.3.1-r0.apk",
				Size:     53346,
				Type:     pkgmirror.TypeAPK,
				Name:     "zlib",
				Version:  "1.3.1-r0",
				Arch:     "x86_64",
				Metadata: map[string]string{
					"apk_checksum": "Q17IFeGLmkd3G0+LplkSHHAYYsLtk=",
					"license":      "Zlib",
					"origin":       "zlib",
				},
			},
			Href:        "x86_64/zlib-1.3.1-r0.apk",
			PublishPath: "x86_64/zlib-1.3.1-r0.apk",
		},
	}
	if !cmp.Equal(want, cands) {
		t.Error(cmp.Diff(want, cands))
	}
}

func TestParseStanzasRejectsMalformedLine(t *testing.T) {
	_, err := parseStanzas(bytes.NewReader([]byte("P:ok\nnot a field\n")))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPublishRegeneratesIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := New(nil, Config{Architectures: []string{"x86_64"}})

	items := []pkgmirror.ContentItem{
		{
			SHA256:   "f2ca1bb6c7e907d06dafe4687e579fce76b37e4e93b7605022da52e6ccc26fd2",
			Filename: "zlib-1.3.1-r0.apk",
			Size:     53346,
			Type:     pkgmirror.TypeAPK,
			Name:     "zlib",
			Version:  "1.3.1-r0",
			Arch:     "x86_64",
			Metadata: map[string]string{"apk_checksum": "Q17IFeGLmkd3G0+LplkSHHAYYsLtk="},
		},
	}
	link := func(sha, filename, dst string) error {
		return os.WriteFile(dst, []byte(sha), 0o644)
	}
	if err := p.Publish(ctx, items, link, dir); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "x86_64", "zlib-1.3.1-r0.apk")); err != nil {
		t.Fatalf("package not linked: %v", err)
	}
	f, err := os.Open(filepath.Join(dir, "x86_64", "APKINDEX.tar.gz"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cands, err := parseIndex(f, "x86_64")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("regenerated index lists %d packages, want 1", len(cands))
	}
	got := cands[0].Item
	if got.Name != "zlib" || got.Version != "1.3.1-r0" || got.Metadata["apk_checksum"] != "Q17IFeGLmkd3G0+LplkSHHAYYsLtk=" {
		t.Errorf("regenerated entry: %+v", got)
	}
}
