// Package apk implements the Alpine APK repository format: APKINDEX.tar.gz
// parsing on sync and regeneration on publish.
package apk

import (
	"net/http"
	"strings"

	apkver "github.com/knqyf263/go-apk-version"

	"github.com/pkgmirror/pkgmirror/driver"
)

var _ driver.Plugin = (*Plugin)(nil)

// Config selects which parts of an Alpine repository to index.
type Config struct {
	// Architectures to fetch indexes for. Defaults to x86_64.
	Architectures []string `yaml:"architectures" json:"architectures"`
}

// Plugin is the APK format plugin.
type Plugin struct {
	client *http.Client
	cfg    Config
}

// New returns a Plugin using client for upstream fetches.
func New(client *http.Client, cfg Config) *Plugin {
	if client == nil {
		client = http.DefaultClient
	}
	if len(cfg.Architectures) == 0 {
		cfg.Architectures = []string{"x86_64"}
	}
	return &Plugin{client: client, cfg: cfg}
}

// Name implements driver.Syncer.
func (*Plugin) Name() string { return "apk" }

// Cmp implements driver.Syncer using apk-tools version ordering.
// Versions that do not parse fall back to byte order, which at least
// stays deterministic.
func (*Plugin) Cmp(a, b string) int {
	va, erra := apkver.NewVersion(a)
	vb, errb := apkver.NewVersion(b)
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
