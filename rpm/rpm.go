// Package rpm implements the RPM repository format: yum/dnf metadata
// parsing on sync and repodata regeneration on publish.
package rpm

import (
	"net/http"
	"strings"

	rpmver "github.com/knqyf263/go-rpm-version"

	"github.com/pkgmirror/pkgmirror/driver"
)

var _ driver.Plugin = (*Plugin)(nil)

// Plugin is the RPM format plugin.
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
func (*Plugin) Name() string { return "rpm" }

// Cmp implements driver.Syncer.
//
// Versions are full EVR strings ("epoch:version-release"); comparison
// follows the rpmvercmp rules: epoch numerically, then version, then
// release, digits compared numerically, letters lexically, tildes sorting
// before everything.
func (*Plugin) Cmp(a, b string) int {
	return rpmver.NewVersion(a).Compare(rpmver.NewVersion(b))
}

// evr renders the canonical version string for an (epoch, version,
// release) triple. A zero or empty epoch is omitted.
func evr(epoch, version, release string) string {
	var b strings.Builder
	if epoch != "" && epoch != "0" {
		b.WriteString(epoch)
		b.WriteByte(':')
	}
	b.WriteString(version)
	if release != "" {
		b.WriteByte('-')
		b.WriteString(release)
	}
	return b.String()
}
