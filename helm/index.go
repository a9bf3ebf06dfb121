package helm

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// chartIndex is the index.yaml document per the Helm repository spec.
type chartIndex struct {
	APIVersion string                    `yaml:"apiVersion"`
	Generated  time.Time                 `yaml:"generated,omitempty"`
	Entries    map[string][]chartVersion `yaml:"entries"`
}

type chartVersion struct {
	Name        string    `yaml:"name"`
	Version     string    `yaml:"version"`
	AppVersion  string    `yaml:"appVersion,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Digest      string    `yaml:"digest"`
	URLs        []string  `yaml:"urls"`
	Created     time.Time `yaml:"created,omitempty"`
}

// parseIndex reads an index.yaml and flattens its entries into
// candidates.
func parseIndex(r io.Reader) ([]driver.Candidate, error) {
	var idx chartIndex
	if err := yaml.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("helm: %w: index.yaml: %w", pkgmirror.ErrUpstreamParse, err)
	}
	var out []driver.Candidate
	for name, versions := range idx.Entries {
		for _, cv := range versions {
			if len(cv.URLs) == 0 {
				return nil, fmt.Errorf("helm: %w: chart %s-%s has no urls", pkgmirror.ErrUpstreamParse, name, cv.Version)
			}
			digest := strings.TrimPrefix(cv.Digest, "sha256:")
			if !pkgmirror.ValidSHA256(digest) {
				return nil, fmt.Errorf("helm: %w: chart %s-%s has no usable digest", pkgmirror.ErrUpstreamParse, name, cv.Version)
			}
			href := cv.URLs[0]
			fn := href
			if i := strings.LastIndexByte(fn, '/'); i >= 0 {
				fn = fn[i+1:]
			}
			md := map[string]string{}
			if cv.AppVersion != "" {
				md["app_version"] = cv.AppVersion
			}
			if cv.Description != "" {
				md["description"] = cv.Description
			}
			out = append(out, driver.Candidate{
				Item: pkgmirror.ContentItem{
					SHA256:   digest,
					Filename: fn,
					Type:     pkgmirror.TypeHelm,
					Name:     name,
					Version:  cv.Version,
					Metadata: md,
				},
				Href:        href,
				PublishPath: fn,
			})
		}
	}
	return out, nil
}
