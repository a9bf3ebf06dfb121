package libmirror

import (
	"fmt"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/apk"
	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/deb"
	"github.com/pkgmirror/pkgmirror/driver"
	"github.com/pkgmirror/pkgmirror/helm"
	"github.com/pkgmirror/pkgmirror/rpm"
)

// plugin instantiates the format plugin a repository's type calls for.
func (l *Libmirror) plugin(rc *config.Repository) (driver.Plugin, error) {
	client, err := l.clientFor(rc)
	if err != nil {
		return nil, err
	}
	switch pkgmirror.ContentType(rc.Type) {
	case pkgmirror.TypeRPM:
		return rpm.New(client), nil
	case pkgmirror.TypeDEB:
		cfg := deb.Config{}
		if rc.Apt != nil {
			cfg = *rc.Apt
		}
		return deb.New(client, cfg), nil
	case pkgmirror.TypeHelm:
		return helm.New(client), nil
	case pkgmirror.TypeAPK:
		cfg := apk.Config{}
		if rc.APK != nil {
			cfg = *rc.APK
		}
		return apk.New(client, cfg), nil
	}
	return nil, fmt.Errorf("libmirror: repository %q: unknown type %q", rc.ID, rc.Type)
}

// pluginForType is plugin for contexts where only the format matters
// (snapshot diff ordering, view publishes).
func (l *Libmirror) pluginForType(typ pkgmirror.ContentType) (driver.Plugin, error) {
	return l.plugin(&config.Repository{ID: string(typ), Type: string(typ)})
}
