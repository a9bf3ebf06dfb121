package libmirror

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/config"
)

// chart is one upstream chart version the fake registry serves.
type chart struct {
	name, version string
	body          []byte
	// badDigest makes the index advertise a wrong digest.
	badDigest bool
}

func digestOf(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// upstream is a minimal Helm repository over httptest.
type upstream struct {
	srv *httptest.Server

	mu     sync.Mutex
	charts []chart
	hits   map[string]int
	etag   string
	broken map[string]bool
}

func newUpstream(t *testing.T, charts []chart) *upstream {
	t.Helper()
	u := &upstream{charts: charts, hits: make(map[string]int), broken: make(map[string]bool)}
	u.srv = httptest.NewServer(http.HandlerFunc(u.handle))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) handle(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hits[r.URL.Path]++
	if u.broken[r.URL.Path] {
		http.Error(w, "upstream broke", http.StatusInternalServerError)
		return
	}
	if r.URL.Path == "/index.yaml" {
		if u.etag != "" {
			w.Header().Set("ETag", u.etag)
			if r.Header.Get("If-None-Match") == u.etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
		fmt.Fprintln(w, "apiVersion: v1")
		fmt.Fprintln(w, "entries:")
		byName := make(map[string][]chart)
		for _, c := range u.charts {
			byName[c.name] = append(byName[c.name], c)
		}
		for name, cs := range byName {
			fmt.Fprintf(w, "  %s:\n", name)
			for _, c := range cs {
				d := digestOf(c.body)
				if c.badDigest {
					d = digestOf([]byte("not the bytes"))
				}
				fmt.Fprintf(w, "    - name: %s\n      version: %s\n      digest: %s\n      urls: [charts/%s-%s.tgz]\n",
					c.name, c.version, d, c.name, c.version)
			}
		}
		return
	}
	for _, c := range u.charts {
		if r.URL.Path == fmt.Sprintf("/charts/%s-%s.tgz", c.name, c.version) {
			w.Write(c.body)
			return
		}
	}
	http.NotFound(w, r)
}

func (u *upstream) setCharts(cs []chart) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.charts = cs
}

func (u *upstream) setETag(v string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.etag = v
}

func (u *upstream) setBroken(path string, v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.broken[path] = v
}

func (u *upstream) hitCount(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

func newEngine(t *testing.T, repos ...config.Repository) *Libmirror {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		Database: config.Database{URL: filepath.Join(base, "meta.db")},
		Storage: config.Storage{
			BasePath:      base,
			PoolPath:      filepath.Join(base, "pool"),
			PublishedPath: filepath.Join(base, "published"),
			TmpPath:       filepath.Join(base, "tmp"),
		},
		Download: config.Download{
			Parallel:      4,
			Timeout:       config.Duration(time.Minute),
			RetryAttempts: 1,
		},
		Repositories: repos,
	}
	ctx := context.Background()
	l, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	if err := l.store.Init(ctx); err != nil {
		t.Fatal(err)
	}
	return l
}

func helmRepo(id, feed string) config.Repository {
	return config.Repository{ID: id, Type: "helm", Feed: feed}
}

// apkUpstream serves a one-package Alpine repository for x86_64.
func apkUpstream(t *testing.T, name, version string, body []byte) *httptest.Server {
	t.Helper()
	stanza := fmt.Sprintf("C:Q1notarealcontrolsum\nP:%s\nV:%s\nA:x86_64\nS:%d\n\n", name, version, len(body))
	var idx bytes.Buffer
	gz := gzip.NewWriter(&idx)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "APKINDEX", Mode: 0o644, Size: int64(len(stanza))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(stanza)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/x86_64/APKINDEX.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(idx.Bytes())
	})
	mux.HandleFunc("/x86_64/"+name+"-"+version+".apk", func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncIdempotence(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, []chart{
		{name: "nginx", version: "1.0.0", body: []byte("nginx chart one")},
		{name: "redis", version: "2.0.0", body: []byte("redis chart two")},
	})
	rc := helmRepo("charts", up.srv.URL)
	l := newEngine(t, rc)

	run, err := l.SyncRepository(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != pkgmirror.SyncSuccess || run.Downloaded != 2 || run.Failed != 0 {
		t.Fatalf("first run %+v", run)
	}

	run, err = l.SyncRepository(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != pkgmirror.SyncSuccess || run.Downloaded != 0 || run.Skipped != 2 {
		t.Fatalf("second run %+v", run)
	}
	// No chart bytes moved twice.
	if n := up.hitCount("/charts/nginx-1.0.0.tgz"); n != 1 {
		t.Errorf("nginx fetched %d times", n)
	}

	runs, err := l.store.ListSyncRuns(ctx, "charts", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("recorded %d runs", len(runs))
	}
}

func TestSyncPartialOnChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, []chart{
		{name: "good", version: "1.0.0", body: []byte("good bytes")},
		{name: "bad", version: "1.0.0", body: []byte("bad bytes"), badDigest: true},
	})
	rc := helmRepo("charts", up.srv.URL)
	l := newEngine(t, rc)

	run, err := l.SyncRepository(ctx, &rc)
	if err == nil {
		t.Fatal("expected aggregated item error")
	}
	if run.Status != pkgmirror.SyncPartial || run.Downloaded != 1 || run.Failed != 1 {
		t.Fatalf("run %+v", run)
	}

	// The good item is linked; the bad one left no trace.
	items, err := l.store.ListRepositoryContent(ctx, "charts")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Name != "good" {
		t.Fatalf("linked %+v", items)
	}
}

func TestSyncResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, []chart{
		{name: "nginx", version: "1.0.0", body: []byte("nginx bytes")},
		{name: "redis", version: "2.0.0", body: []byte("redis bytes")},
	})
	up.setETag(`"idx-1"`)
	up.setBroken("/charts/redis-2.0.0.tgz", true)
	rc := helmRepo("charts", up.srv.URL)
	l := newEngine(t, rc)

	run, err := l.SyncRepository(ctx, &rc)
	if err == nil {
		t.Fatal("expected aggregated item error")
	}
	if run.Status != pkgmirror.SyncPartial || run.Downloaded != 1 || run.Failed != 1 {
		t.Fatalf("first run %+v", run)
	}

	// The upstream recovers without touching its index. The failed item
	// must be retried, not skipped behind a 304.
	up.setBroken("/charts/redis-2.0.0.tgz", false)
	run, err = l.SyncRepository(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != pkgmirror.SyncSuccess || run.Downloaded != 1 || run.Skipped != 1 {
		t.Fatalf("second run %+v", run)
	}
	items, err := l.store.ListRepositoryContent(ctx, "charts")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("linked %+v", items)
	}

	// Only a clean run records the validator.
	run, err = l.SyncRepository(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != pkgmirror.SyncSuccess || run.Downloaded != 0 || run.Skipped != 0 {
		t.Fatalf("third run %+v", run)
	}
	if n := up.hitCount("/charts/redis-2.0.0.tgz"); n != 2 {
		t.Errorf("redis fetched %d times", n)
	}
}

func TestSyncAPKRetention(t *testing.T) {
	ctx := context.Background()
	body := []byte("busybox apk bytes")
	srv := apkUpstream(t, "busybox", "1.36.1-r0", body)
	rc := config.Repository{
		ID:        "alpine",
		Type:      "apk",
		Feed:      srv.URL,
		Retention: config.Retention{Policy: pkgmirror.RetainMirror},
	}
	l := newEngine(t, rc)

	// The index carries no SHA-256, so the item's digest is only known
	// once the download lands. Same-run retention must keep it.
	run, err := l.SyncRepository(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != pkgmirror.SyncSuccess || run.Downloaded != 1 || run.Unlinked != 0 {
		t.Fatalf("first run %+v", run)
	}
	items, err := l.store.ListRepositoryContent(ctx, "alpine")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].SHA256 != digestOf(body) {
		t.Fatalf("linked %+v", items)
	}

	// The second run matches by coordinates and skips the download.
	run, err = l.SyncRepository(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != pkgmirror.SyncSuccess || run.Downloaded != 0 || run.Skipped != 1 || run.Unlinked != 0 {
		t.Fatalf("second run %+v", run)
	}
}

func TestSyncRetentionNewestOnly(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, []chart{
		{name: "nginx", version: "1.0.0", body: []byte("one")},
	})
	rc := helmRepo("charts", up.srv.URL)
	rc.Retention = config.Retention{Policy: pkgmirror.RetainNewestOnly}
	l := newEngine(t, rc)

	if _, err := l.SyncRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}
	up.setCharts([]chart{
		{name: "nginx", version: "2.0.0", body: []byte("two")},
	})
	run, err := l.SyncRepository(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if run.Unlinked != 1 {
		t.Fatalf("run %+v", run)
	}
	items, _ := l.store.ListRepositoryContent(ctx, "charts")
	if len(items) != 1 || items[0].Version != "2.0.0" {
		t.Fatalf("linked %+v", items)
	}
	// Superseded bytes stay pooled until cleanup.
	if _, err := l.store.GetContent(ctx, digestOf([]byte("one"))); err != nil {
		t.Errorf("superseded item gone from store: %v", err)
	}
}

func TestCheckUpdates(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, []chart{
		{name: "nginx", version: "1.0.0", body: []byte("one")},
	})
	rc := helmRepo("charts", up.srv.URL)
	l := newEngine(t, rc)

	plan, err := l.CheckUpdates(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Need) != 1 || plan.Present != 0 {
		t.Fatalf("plan %+v", plan)
	}
	// Nothing was mutated.
	if _, err := l.store.GetRepository(ctx, "charts"); err == nil {
		t.Error("check-updates created a repository record")
	}

	if _, err := l.SyncRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}
	plan, err = l.CheckUpdates(ctx, &rc)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Need) != 0 || plan.Present != 1 {
		t.Fatalf("plan after sync %+v", plan)
	}
}

func TestPublishRepository(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, []chart{
		{name: "nginx", version: "1.0.0", body: []byte("nginx chart")},
	})
	rc := helmRepo("charts", up.srv.URL)
	l := newEngine(t, rc)
	if _, err := l.SyncRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}

	if err := l.PublishRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}
	latest := filepath.Join(l.cfg.Storage.PublishedPath, "charts", "latest")
	b, err := os.ReadFile(filepath.Join(latest, "nginx-1.0.0.tgz"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "nginx chart" {
		t.Errorf("published bytes %q", b)
	}
	if _, err := os.Stat(filepath.Join(latest, "index.yaml")); err != nil {
		t.Fatal(err)
	}

	// Republishing swaps atomically and leaves no staging litter.
	if err := l.PublishRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(l.cfg.Storage.PublishedPath, "charts"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "latest" {
		t.Errorf("publish dir entries: %v", entries)
	}
}

func TestSnapshotFlow(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, []chart{
		{name: "nginx", version: "1.0.0", body: []byte("one")},
	})
	rc := helmRepo("charts", up.srv.URL)
	rc.Retention = config.Retention{Policy: pkgmirror.RetainMirror}
	l := newEngine(t, rc)

	if _, err := l.SyncRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CreateSnapshot(ctx, "charts", "v1", ""); err != nil {
		t.Fatal(err)
	}

	up.setCharts([]chart{
		{name: "nginx", version: "2.0.0", body: []byte("two")},
		{name: "redis", version: "1.0.0", body: []byte("three")},
	})
	if _, err := l.SyncRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CreateSnapshot(ctx, "charts", "v2", ""); err != nil {
		t.Fatal(err)
	}

	diff, err := l.DiffSnapshots(ctx, "charts", "v1", "v2")
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Added) != 1 || diff.Added[0].Name != "redis" {
		t.Errorf("added %+v", diff.Added)
	}
	if len(diff.Updated) != 1 || diff.Updated[0].From != "1.0.0" || diff.Updated[0].To != "2.0.0" {
		t.Errorf("updated %+v", diff.Updated)
	}
	if len(diff.Removed) != 0 {
		t.Errorf("removed %+v", diff.Removed)
	}

	// Publishing the old snapshot still serves the superseded chart.
	if err := l.PublishSnapshot(ctx, &rc, "v1"); err != nil {
		t.Fatal(err)
	}
	snapDir := filepath.Join(l.cfg.Storage.PublishedPath, "charts", "snapshots", "v1")
	b, err := os.ReadFile(filepath.Join(snapDir, "nginx-1.0.0.tgz"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "one" {
		t.Errorf("snapshot bytes %q", b)
	}
}

func TestCleanupPool(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, []chart{
		{name: "nginx", version: "1.0.0", body: []byte("one")},
	})
	rc := helmRepo("charts", up.srv.URL)
	rc.Retention = config.Retention{Policy: pkgmirror.RetainMirror}
	l := newEngine(t, rc)

	if _, err := l.SyncRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}
	up.setCharts(nil)
	if _, err := l.SyncRepository(ctx, &rc); err != nil {
		t.Fatal(err)
	}

	removed, bytes, err := l.CleanupPool(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 || bytes != int64(len("one")) {
		t.Errorf("removed %d files, %d bytes", removed, bytes)
	}
	stats, err := l.pool.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ContentFiles != 0 {
		t.Errorf("pool still holds %d files", stats.ContentFiles)
	}
}
