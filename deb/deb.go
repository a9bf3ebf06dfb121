// Package deb implements the Debian/Ubuntu repository format: InRelease
// and Packages parsing on sync, pool layout and index regeneration on
// publish.
package deb

import (
	"net/http"
	"strings"

	debver "github.com/knqyf263/go-deb-version"

	"github.com/pkgmirror/pkgmirror/driver"
)

var _ driver.Plugin = (*Plugin)(nil)

// Config scopes a plugin instance to one distribution slice.
type Config struct {
	// Dist is the distribution (codename or suite) under dists/.
	Dist string
	// Components defaults to ["main"].
	Components []string
	// Architectures defaults to ["amd64"].
	Architectures []string
}

// Plugin is the Debian format plugin.
type Plugin struct {
	client *http.Client
	cfg    Config
}

// New returns a Plugin for the given distribution slice.
func New(client *http.Client, cfg Config) *Plugin {
	if client == nil {
		client = http.DefaultClient
	}
	if len(cfg.Components) == 0 {
		cfg.Components = []string{"main"}
	}
	if len(cfg.Architectures) == 0 {
		cfg.Architectures = []string{"amd64"}
	}
	return &Plugin{client: client, cfg: cfg}
}

// Name implements driver.Syncer.
func (*Plugin) Name() string { return "deb" }

// Cmp implements driver.Syncer using the Debian version ordering:
// [epoch:]upstream-version[-debian-revision] with the documented tilde
// and digit/non-digit semantics.
func (*Plugin) Cmp(a, b string) int {
	va, erra := debver.NewVersion(a)
	vb, errb := debver.NewVersion(b)
	if erra != nil || errb != nil {
		return strings.Compare(a, b)
	}
	switch {
	case va.LessThan(vb):
		return -1
	case va.GreaterThan(vb):
		return 1
	}
	return 0
}

// poolLetter is the pool/ fan-out directory for a source package name:
// the first letter, except "lib*" packages which use the first four
// characters.
func poolLetter(src string) string {
	if strings.HasPrefix(src, "lib") && len(src) > 3 {
		return src[:4]
	}
	if src == "" {
		return "_"
	}
	return src[:1]
}
