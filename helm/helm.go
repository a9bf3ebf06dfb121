// Package helm implements the Helm chart repository format: index.yaml
// parsing on sync and regeneration on publish.
package helm

import (
	"net/http"
	"strings"

	"github.com/Masterminds/semver"

	"github.com/pkgmirror/pkgmirror/driver"
)

var _ driver.Plugin = (*Plugin)(nil)

// Plugin is the Helm format plugin.
type Plugin struct {
	client *http.Client
}

// New returns a Plugin using client for upstream fetches.
func New(client *http.Client) *Plugin {
	if client == nil {
		client = http.DefaultClient
	}
	return &Plugin{client: client}
}

// Name implements driver.Syncer.
func (*Plugin) Name() string { return "helm" }

// Cmp implements driver.Syncer using SemVer ordering. Versions that do
// not parse fall back to byte order, which at least stays deterministic.
func (*Plugin) Cmp(a, b string) int {
	va, erra := semver.NewVersion(a)
	vb, errb := semver.NewVersion(b)
	if erra != nil || errb != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}
