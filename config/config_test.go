package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkgmirror/pkgmirror"
)

const rootDoc = `
database:
  url: /var/lib/pkgmirror/meta.db
storage:
  base_path: /var/lib/pkgmirror
download:
  parallel: 4
  timeout: 90s
repositories:
  - id: baseos
    type: rpm
    feed: https://mirror.example.com/el9/baseos/
    filters:
      patterns:
        include: ["^vim", "^nano"]
      post_processing:
        only_latest_version: true
  - id: jammy
    type: deb
    feed: https://archive.example.com/ubuntu/
    mode: mirror
    apt:
      dist: jammy
      components: [main, universe]
      architectures: [amd64]
views:
  - name: el9
    repos: [baseos]
`

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "pkgmirror.yaml", rootDoc)

	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Storage.PoolPath != "/var/lib/pkgmirror/pool" {
		t.Errorf("pool path %q", c.Storage.PoolPath)
	}
	if c.Storage.HintsPath() != "/var/lib/pkgmirror/tmp/hints.json" {
		t.Errorf("hints path %q", c.Storage.HintsPath())
	}
	if c.Download.Parallel != 4 || time.Duration(c.Download.Timeout) != 90*time.Second {
		t.Errorf("download %+v", c.Download)
	}
	if c.Download.RetryAttempts != 3 {
		t.Errorf("retry attempts %d", c.Download.RetryAttempts)
	}

	r := c.Repo("baseos")
	if r == nil {
		t.Fatal("baseos not found")
	}
	core := r.Core()
	if core.Mode != pkgmirror.Filtered || !core.Enabled || core.Name != "baseos" {
		t.Errorf("core %+v", core)
	}
	j := c.Repo("jammy")
	if j.Apt.Dist != "jammy" || len(j.Apt.Components) != 2 {
		t.Errorf("apt %+v", j.Apt)
	}

	vw, err := c.CoreView("el9")
	if err != nil {
		t.Fatal(err)
	}
	if vw.Type != pkgmirror.TypeRPM {
		t.Errorf("view type %q", vw.Type)
	}
}

func TestLoadInclude(t *testing.T) {
	dir := t.TempDir()
	main := `
database:
  url: meta.db
storage:
  base_path: ` + dir + `
include: "conf.d/*.yaml"
`
	if err := os.MkdirAll(filepath.Join(dir, "conf.d"), 0o755); err != nil {
		t.Fatal(err)
	}
	write(t, filepath.Join(dir, "conf.d"), "10-repos.yaml", `
repositories:
  - id: charts
    type: helm
    feed: https://charts.example.com/
`)
	p := write(t, dir, "pkgmirror.yaml", main)

	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Repo("charts") == nil {
		t.Error("included repository missing")
	}
}

func TestMirrorWithFiltersRejected(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "bad.yaml", `
database:
  url: meta.db
storage:
  base_path: /tmp/pm
repositories:
  - id: baseos
    type: rpm
    feed: https://mirror.example.com/el9/
    mode: mirror
    filters:
      patterns:
        include: ["^vim"]
`)
	_, err := Load(p)
	if !errors.Is(err, pkgmirror.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing feed", `
database: {url: meta.db}
storage: {base_path: /tmp/pm}
repositories:
  - id: x
    type: rpm
`},
		{"bad type", `
database: {url: meta.db}
storage: {base_path: /tmp/pm}
repositories:
  - id: x
    type: gem
    feed: https://example.com/
`},
		{"duplicate id", `
database: {url: meta.db}
storage: {base_path: /tmp/pm}
repositories:
  - {id: x, type: rpm, feed: "https://example.com/a"}
  - {id: x, type: rpm, feed: "https://example.com/b"}
`},
		{"deb without dist", `
database: {url: meta.db}
storage: {base_path: /tmp/pm}
repositories:
  - {id: x, type: deb, feed: "https://example.com/"}
`},
		{"view unknown member", `
database: {url: meta.db}
storage: {base_path: /tmp/pm}
views:
  - {name: v, repos: [ghost]}
`},
		{"view mixed types", `
database: {url: meta.db}
storage: {base_path: /tmp/pm}
repositories:
  - {id: a, type: rpm, feed: "https://example.com/a"}
  - {id: b, type: helm, feed: "https://example.com/b"}
views:
  - {name: v, repos: [a, b]}
`},
		{"keep-last-n without versions", `
database: {url: meta.db}
storage: {base_path: /tmp/pm}
repositories:
  - id: x
    type: rpm
    feed: https://example.com/
    retention: {policy: keep-last-n}
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			p := write(t, dir, "bad.yaml", tc.body)
			if _, err := Load(p); !errors.Is(err, pkgmirror.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}
