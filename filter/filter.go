// Package filter selects the subset of upstream candidates a filtered
// repository keeps.
//
// Every option is optional; an omitted option is a no-op. The order of
// application is fixed: name patterns, architectures, size bounds,
// RPM-specific fields, then version post-processing.
package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// Rules is the compiled form of a repository's filter configuration.
type Rules struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp

	archInclude map[string]struct{}
	archExclude map[string]struct{}

	minBytes int64
	maxBytes int64

	excludeSourceRPMs bool
	groupInclude      map[string]struct{}
	groupExclude      map[string]struct{}
	licenseInclude    map[string]struct{}
	licenseExclude    map[string]struct{}

	onlyLatest  bool
	onlyLatestN int
}

// Spec is the declarative shape found in configuration.
type Spec struct {
	Patterns struct {
		Include []string `yaml:"include"`
		Exclude []string `yaml:"exclude"`
	} `yaml:"patterns"`
	Metadata struct {
		Architectures struct {
			Include []string `yaml:"include"`
			Exclude []string `yaml:"exclude"`
		} `yaml:"architectures"`
		Size struct {
			MinBytes int64 `yaml:"min_bytes"`
			MaxBytes int64 `yaml:"max_bytes"`
		} `yaml:"size"`
	} `yaml:"metadata"`
	RPM struct {
		ExcludeSourceRPMs bool `yaml:"exclude_source_rpms"`
		Groups            struct {
			Include []string `yaml:"include"`
			Exclude []string `yaml:"exclude"`
		} `yaml:"groups"`
		Licenses struct {
			Include []string `yaml:"include"`
			Exclude []string `yaml:"exclude"`
		} `yaml:"licenses"`
	} `yaml:"rpm"`
	PostProcessing struct {
		OnlyLatestVersion   bool `yaml:"only_latest_version"`
		OnlyLatestNVersions int  `yaml:"only_latest_n_versions"`
	} `yaml:"post_processing"`
}

// Empty reports whether no rule is configured.
func (s *Spec) Empty() bool {
	return s == nil || (len(s.Patterns.Include) == 0 &&
		len(s.Patterns.Exclude) == 0 &&
		len(s.Metadata.Architectures.Include) == 0 &&
		len(s.Metadata.Architectures.Exclude) == 0 &&
		s.Metadata.Size.MinBytes == 0 &&
		s.Metadata.Size.MaxBytes == 0 &&
		!s.RPM.ExcludeSourceRPMs &&
		len(s.RPM.Groups.Include) == 0 &&
		len(s.RPM.Groups.Exclude) == 0 &&
		len(s.RPM.Licenses.Include) == 0 &&
		len(s.RPM.Licenses.Exclude) == 0 &&
		!s.PostProcessing.OnlyLatestVersion &&
		s.PostProcessing.OnlyLatestNVersions == 0)
}

// Compile validates a Spec and produces Rules.
func Compile(s *Spec) (*Rules, error) {
	r := &Rules{}
	if s == nil {
		return r, nil
	}
	var err error
	if r.include, err = compileAll(s.Patterns.Include); err != nil {
		return nil, fmt.Errorf("filter: %w: include pattern: %w", pkgmirror.ErrConfigInvalid, err)
	}
	if r.exclude, err = compileAll(s.Patterns.Exclude); err != nil {
		return nil, fmt.Errorf("filter: %w: exclude pattern: %w", pkgmirror.ErrConfigInvalid, err)
	}
	r.archInclude = asSet(s.Metadata.Architectures.Include)
	r.archExclude = asSet(s.Metadata.Architectures.Exclude)
	r.minBytes = s.Metadata.Size.MinBytes
	r.maxBytes = s.Metadata.Size.MaxBytes
	r.excludeSourceRPMs = s.RPM.ExcludeSourceRPMs
	r.groupInclude = asSet(s.RPM.Groups.Include)
	r.groupExclude = asSet(s.RPM.Groups.Exclude)
	r.licenseInclude = asSet(s.RPM.Licenses.Include)
	r.licenseExclude = asSet(s.RPM.Licenses.Exclude)
	r.onlyLatest = s.PostProcessing.OnlyLatestVersion
	r.onlyLatestN = s.PostProcessing.OnlyLatestNVersions
	if r.onlyLatestN < 0 {
		return nil, fmt.Errorf("filter: %w: only_latest_n_versions must be positive", pkgmirror.ErrConfigInvalid)
	}
	return r, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func asSet(ss []string) map[string]struct{} {
	if len(ss) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

// Apply winnows candidates down to the kept set. cmp is the format
// plugin's version comparator, used by the only-latest post-processing.
func (r *Rules) Apply(in []driver.Candidate, cmp func(a, b string) int) []driver.Candidate {
	out := make([]driver.Candidate, 0, len(in))
	for _, c := range in {
		if r.keep(&c.Item) {
			out = append(out, c)
		}
	}
	switch {
	case r.onlyLatest:
		out = latestN(out, 1, cmp)
	case r.onlyLatestN > 0:
		out = latestN(out, r.onlyLatestN, cmp)
	}
	return out
}

func (r *Rules) keep(it *pkgmirror.ContentItem) bool {
	if len(r.include) > 0 {
		hit := false
		for _, re := range r.include {
			if re.MatchString(it.Name) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, re := range r.exclude {
		if re.MatchString(it.Name) {
			return false
		}
	}
	if r.archInclude != nil {
		if _, ok := r.archInclude[it.Arch]; !ok {
			return false
		}
	}
	if _, ok := r.archExclude[it.Arch]; ok {
		return false
	}
	if r.minBytes > 0 && it.Size < r.minBytes {
		return false
	}
	if r.maxBytes > 0 && it.Size > r.maxBytes {
		return false
	}
	if r.excludeSourceRPMs && strings.HasSuffix(it.Filename, ".src.rpm") {
		return false
	}
	if r.groupInclude != nil {
		if _, ok := r.groupInclude[it.Metadata["group"]]; !ok {
			return false
		}
	}
	if _, ok := r.groupExclude[it.Metadata["group"]]; ok {
		return false
	}
	if r.licenseInclude != nil {
		if _, ok := r.licenseInclude[it.Metadata["license"]]; !ok {
			return false
		}
	}
	if _, ok := r.licenseExclude[it.Metadata["license"]]; ok {
		return false
	}
	return true
}

// latestN groups by (name, arch) and keeps the n highest versions per
// group, preserving the relative input order of survivors.
func latestN(in []driver.Candidate, n int, cmp func(a, b string) int) []driver.Candidate {
	type key struct{ name, arch string }
	groups := make(map[key][]int)
	for i, c := range in {
		k := key{c.Item.Name, c.Item.Arch}
		groups[k] = append(groups[k], i)
	}
	keep := make(map[int]struct{}, len(in))
	for _, idxs := range groups {
		sort.SliceStable(idxs, func(a, b int) bool {
			return cmp(in[idxs[a]].Item.Version, in[idxs[b]].Item.Version) > 0
		})
		if len(idxs) > n {
			idxs = idxs[:n]
		}
		for _, i := range idxs {
			keep[i] = struct{}{}
		}
	}
	out := make([]driver.Candidate, 0, len(keep))
	for i, c := range in {
		if _, ok := keep[i]; ok {
			out = append(out, c)
		}
	}
	return out
}
