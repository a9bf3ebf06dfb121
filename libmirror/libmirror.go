// Package libmirror wires the pool, the metadata store, the fetcher, and
// the format plugins into the three top-level operations: syncing
// repositories, managing snapshots, and publishing trees.
package libmirror

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/datastore"
	"github.com/pkgmirror/pkgmirror/datastore/sqlstore"
	"github.com/pkgmirror/pkgmirror/fetcher"
	"github.com/pkgmirror/pkgmirror/pool"
)

// Libmirror is the engine behind every CLI command.
type Libmirror struct {
	cfg    *config.Config
	store  datastore.MetaStore
	pool   *pool.Pool
	hints  *fetcher.Hints
	client *http.Client
	fetch  *fetcher.Fetcher
}

// New opens the store and the pool described by cfg.
func New(ctx context.Context, cfg *config.Config) (*Libmirror, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/New")
	store, err := sqlstore.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	p, err := pool.New(cfg.Storage.PoolPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	hints, err := fetcher.LoadHints(cfg.Storage.HintsPath())
	if err != nil {
		store.Close()
		return nil, err
	}
	t, err := fetcher.NewTransport(proxyConfig(&cfg.Proxy), tlsConfig(&cfg.SSL))
	if err != nil {
		store.Close()
		return nil, err
	}
	client := &http.Client{Transport: t}
	f, err := fetcher.New(client, cfg.Storage.TmpPath,
		fetcher.WithAttempts(cfg.Download.RetryAttempts),
		fetcher.WithTimeout(time.Duration(cfg.Download.Timeout)))
	if err != nil {
		store.Close()
		return nil, err
	}
	zlog.Debug(ctx).Str("pool", cfg.Storage.PoolPath).Msg("engine ready")
	return &Libmirror{
		cfg:    cfg,
		store:  store,
		pool:   p,
		hints:  hints,
		client: client,
		fetch:  f,
	}, nil
}

// Store exposes the metadata store for read-mostly CLI commands.
func (l *Libmirror) Store() datastore.MetaStore { return l.store }

// Pool exposes the content pool.
func (l *Libmirror) Pool() *pool.Pool { return l.pool }

// Close persists the fetch-hint cache and releases the store.
func (l *Libmirror) Close() error {
	if err := l.hints.Save(); err != nil {
		return err
	}
	return l.store.Close()
}

// CleanupPool removes pool files nothing in the store references.
func (l *Libmirror) CleanupPool(ctx context.Context) (removed, bytes int64, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.CleanupPool")
	refs, err := l.store.Referenced(ctx)
	if err != nil {
		return 0, 0, err
	}
	return l.pool.Cleanup(ctx, func(_ context.Context, sum string) (bool, error) {
		_, ok := refs[sum]
		return ok, nil
	})
}

// clientFor builds the HTTP client a repository's sync uses, honoring
// its proxy and TLS overrides.
func (l *Libmirror) clientFor(rc *config.Repository) (*http.Client, error) {
	if rc.Proxy == nil && rc.SSL == nil {
		return l.client, nil
	}
	pc, tc := &l.cfg.Proxy, &l.cfg.SSL
	if rc.Proxy != nil {
		pc = rc.Proxy
	}
	if rc.SSL != nil {
		tc = rc.SSL
	}
	t, err := fetcher.NewTransport(proxyConfig(pc), tlsConfig(tc))
	if err != nil {
		return nil, fmt.Errorf("libmirror: repository %q transport: %w", rc.ID, err)
	}
	return &http.Client{Transport: t}, nil
}

func proxyConfig(p *config.Proxy) fetcher.ProxyConfig {
	return fetcher.ProxyConfig{
		HTTP:     p.HTTPProxy,
		HTTPS:    p.HTTPSProxy,
		NoProxy:  p.NoProxy,
		Username: p.Username,
		Password: p.Password,
	}
}

func tlsConfig(s *config.SSL) fetcher.TLSConfig {
	return fetcher.TLSConfig{
		CABundle:   s.CABundle,
		ClientCert: s.ClientCert,
		ClientKey:  s.ClientKey,
		Insecure:   s.Verify != nil && !*s.Verify,
	}
}

// resolve joins a possibly-relative href onto the repository feed.
func resolve(feed, href string) string {
	if strings.Contains(href, "://") {
		return href
	}
	u, err := url.Parse(feed)
	if err != nil {
		return feed + "/" + href
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	ref, err := u.Parse(href)
	if err != nil {
		return feed + "/" + href
	}
	return ref.String()
}

func pid() string { return fmt.Sprint(os.Getpid()) }
