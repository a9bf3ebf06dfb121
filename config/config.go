// Package config loads and validates the root YAML document.
//
// A single file defines the database, storage roots, download tuning,
// and every repository and view. Additional fragments can be merged in
// through the include glob; fragments contribute repositories and views
// only.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/apk"
	"github.com/pkgmirror/pkgmirror/deb"
	"github.com/pkgmirror/pkgmirror/filter"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the root document.
type Config struct {
	Database Database `yaml:"database" validate:"required"`
	Storage  Storage  `yaml:"storage" validate:"required"`
	Download Download `yaml:"download"`
	Proxy    Proxy    `yaml:"proxy"`
	SSL      SSL      `yaml:"ssl"`

	Repositories []Repository `yaml:"repositories" validate:"dive"`
	Views        []View       `yaml:"views" validate:"dive"`

	// Include is a glob of YAML fragments merged into this document.
	Include string `yaml:"include"`
}

type Database struct {
	URL string `yaml:"url" validate:"required"`
}

type Storage struct {
	BasePath      string `yaml:"base_path" validate:"required"`
	PoolPath      string `yaml:"pool_path"`
	PublishedPath string `yaml:"published_path"`
	TmpPath       string `yaml:"tmp_path"`
}

// HintsPath is where the conditional-fetch cache lives.
func (s *Storage) HintsPath() string { return filepath.Join(s.TmpPath, "hints.json") }

type Download struct {
	Parallel      int      `yaml:"parallel" validate:"gte=0"`
	Timeout       Duration `yaml:"timeout"`
	RetryAttempts int      `yaml:"retry_attempts" validate:"gte=0"`
}

type Proxy struct {
	HTTPProxy  string `yaml:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy"`
	NoProxy    string `yaml:"no_proxy"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
}

type SSL struct {
	CABundle   string `yaml:"ca_bundle"`
	Verify     *bool  `yaml:"verify"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// Retention controls what a sync unlinks.
type Retention struct {
	Policy pkgmirror.RetentionPolicy `yaml:"policy" validate:"omitempty,oneof=mirror newest-only keep-all keep-last-n"`
	// Versions is the N of keep-last-n.
	Versions int `yaml:"versions" validate:"gte=0"`
	// DeletedPackages says what newest-only does with items that
	// vanished upstream entirely: "keep" (default) or "remove".
	DeletedPackages string `yaml:"deleted_packages" validate:"omitempty,oneof=keep remove"`
}

// Repository is one configured upstream.
type Repository struct {
	ID      string `yaml:"id" validate:"required"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type" validate:"required,oneof=rpm deb helm apk"`
	Feed    string `yaml:"feed" validate:"required,url"`
	Enabled *bool  `yaml:"enabled"`
	Mode    string `yaml:"mode" validate:"omitempty,oneof=filtered mirror"`

	Filters   *filter.Spec `yaml:"filters"`
	Retention Retention    `yaml:"retention"`

	// Per-repository transport overrides.
	Proxy *Proxy `yaml:"proxy"`
	SSL   *SSL   `yaml:"ssl"`

	Apt *deb.Config `yaml:"apt"`
	APK *apk.Config `yaml:"apk"`
}

// IsEnabled reports the effective enabled state; repositories default on.
func (r *Repository) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// Core converts the config shape into the store's repository record.
func (r *Repository) Core() *pkgmirror.Repository {
	name := r.Name
	if name == "" {
		name = r.ID
	}
	mode := pkgmirror.Mode(r.Mode)
	if mode == "" {
		mode = pkgmirror.Filtered
	}
	return &pkgmirror.Repository{
		ID:      r.ID,
		Name:    name,
		Type:    pkgmirror.ContentType(r.Type),
		Feed:    r.Feed,
		Enabled: r.IsEnabled(),
		Mode:    mode,
	}
}

// View is one configured repository grouping.
type View struct {
	Name        string   `yaml:"name" validate:"required"`
	Description string   `yaml:"description"`
	Repos       []string `yaml:"repos" validate:"required,min=1"`
}

// fragment is the shape an included file may carry.
type fragment struct {
	Repositories []Repository `yaml:"repositories"`
	Views        []View       `yaml:"views"`
}

// Load reads, merges, defaults, and validates the document at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w: %w", pkgmirror.ErrConfigInvalid, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: %w: %w", pkgmirror.ErrConfigInvalid, err)
	}

	if c.Include != "" {
		glob := c.Include
		if !filepath.IsAbs(glob) {
			glob = filepath.Join(filepath.Dir(path), glob)
		}
		names, err := filepath.Glob(glob)
		if err != nil {
			return nil, fmt.Errorf("config: %w: include glob: %w", pkgmirror.ErrConfigInvalid, err)
		}
		sort.Strings(names)
		for _, n := range names {
			fb, err := os.ReadFile(n)
			if err != nil {
				return nil, fmt.Errorf("config: %w: reading %q: %w", pkgmirror.ErrConfigInvalid, n, err)
			}
			var f fragment
			if err := yaml.Unmarshal(fb, &f); err != nil {
				return nil, fmt.Errorf("config: %w: parsing %q: %w", pkgmirror.ErrConfigInvalid, n, err)
			}
			c.Repositories = append(c.Repositories, f.Repositories...)
			c.Views = append(c.Views, f.Views...)
		}
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.PoolPath == "" {
		c.Storage.PoolPath = filepath.Join(c.Storage.BasePath, "pool")
	}
	if c.Storage.PublishedPath == "" {
		c.Storage.PublishedPath = filepath.Join(c.Storage.BasePath, "published")
	}
	if c.Storage.TmpPath == "" {
		c.Storage.TmpPath = filepath.Join(c.Storage.BasePath, "tmp")
	}
	if c.Download.Parallel == 0 {
		c.Download.Parallel = 10
	}
	if c.Download.Timeout == 0 {
		c.Download.Timeout = Duration(5 * time.Minute)
	}
	if c.Download.RetryAttempts == 0 {
		c.Download.RetryAttempts = 3
	}
	if c.Database.URL == "" && c.Storage.BasePath != "" {
		c.Database.URL = filepath.Join(c.Storage.BasePath, "pkgmirror.db")
	}
}

// Validate checks structural and semantic constraints.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w: %w", pkgmirror.ErrConfigInvalid, err)
	}

	seen := make(map[string]*Repository, len(c.Repositories))
	for i := range c.Repositories {
		r := &c.Repositories[i]
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("config: %w: duplicate repository id %q", pkgmirror.ErrConfigInvalid, r.ID)
		}
		seen[r.ID] = r
		if err := r.validate(); err != nil {
			return err
		}
	}

	viewNames := make(map[string]struct{}, len(c.Views))
	for i := range c.Views {
		vw := &c.Views[i]
		if _, ok := viewNames[vw.Name]; ok {
			return fmt.Errorf("config: %w: duplicate view %q", pkgmirror.ErrConfigInvalid, vw.Name)
		}
		viewNames[vw.Name] = struct{}{}
		var typ string
		for _, id := range vw.Repos {
			r, ok := seen[id]
			if !ok {
				return fmt.Errorf("config: %w: view %q references unknown repository %q", pkgmirror.ErrConfigInvalid, vw.Name, id)
			}
			if typ == "" {
				typ = r.Type
			} else if r.Type != typ {
				return fmt.Errorf("config: %w: view %q mixes repository types %s and %s", pkgmirror.ErrConfigInvalid, vw.Name, typ, r.Type)
			}
		}
	}
	return nil
}

func (r *Repository) validate() error {
	// Mirror mode republishes upstream metadata verbatim; a filtered
	// subset would contradict it.
	if pkgmirror.Mode(r.Mode) == pkgmirror.Mirror && !r.Filters.Empty() {
		return fmt.Errorf("config: %w: repository %q: mirror mode does not accept filters", pkgmirror.ErrConfigInvalid, r.ID)
	}
	if r.Retention.Policy == pkgmirror.RetainLastN && r.Retention.Versions <= 0 {
		return fmt.Errorf("config: %w: repository %q: keep-last-n needs retention.versions", pkgmirror.ErrConfigInvalid, r.ID)
	}
	if r.Type == "deb" && (r.Apt == nil || r.Apt.Dist == "") {
		return fmt.Errorf("config: %w: repository %q: deb repositories need apt.dist", pkgmirror.ErrConfigInvalid, r.ID)
	}
	if _, err := filter.Compile(r.Filters); err != nil {
		return fmt.Errorf("config: repository %q: %w", r.ID, err)
	}
	return nil
}

// CoreView converts a view definition into the core shape, resolving the
// member type from the first member.
func (c *Config) CoreView(name string) (*pkgmirror.View, error) {
	for i := range c.Views {
		vw := &c.Views[i]
		if vw.Name != name {
			continue
		}
		out := &pkgmirror.View{
			Name:         vw.Name,
			Description:  vw.Description,
			Repositories: vw.Repos,
		}
		if r := c.Repo(vw.Repos[0]); r != nil {
			out.Type = pkgmirror.ContentType(r.Type)
		}
		return out, nil
	}
	return nil, fmt.Errorf("config: view %q: %w", name, pkgmirror.ErrNotFound)
}

// Repo returns the repository with the given ID, or nil.
func (c *Config) Repo(id string) *Repository {
	for i := range c.Repositories {
		if c.Repositories[i].ID == id {
			return &c.Repositories[i]
		}
	}
	return nil
}
