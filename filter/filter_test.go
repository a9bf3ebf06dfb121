package filter

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

func cand(name, version, arch, filename string, size int64, md map[string]string) driver.Candidate {
	return driver.Candidate{Item: pkgmirror.ContentItem{
		Name:     name,
		Version:  version,
		Arch:     arch,
		Filename: filename,
		Size:     size,
		Metadata: md,
	}}
}

// cmpVersions orders plain dotted versions well enough for these tests.
func cmpVersions(a, b string) int { return strings.Compare(a, b) }

func names(cs []driver.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Item.Name + "-" + c.Item.Version
	}
	return out
}

func TestPatterns(t *testing.T) {
	spec := &Spec{}
	spec.Patterns.Include = []string{`^vim-.*`}
	spec.Patterns.Exclude = []string{`-debuginfo$`}
	r, err := Compile(spec)
	if err != nil {
		t.Fatal(err)
	}

	in := []driver.Candidate{
		cand("vim-common", "9.0", "x86_64", "vim-common.rpm", 10, nil),
		cand("vim-debuginfo", "9.0", "x86_64", "vim-debuginfo.rpm", 10, nil),
		cand("nano", "7.2", "x86_64", "nano.rpm", 10, nil),
	}
	got := names(r.Apply(in, cmpVersions))
	want := []string{"vim-common-9.0"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Error(diff)
	}
}

func TestArchAndSize(t *testing.T) {
	spec := &Spec{}
	spec.Metadata.Architectures.Include = []string{"x86_64", "noarch"}
	spec.Metadata.Size.MaxBytes = 100
	r, err := Compile(spec)
	if err != nil {
		t.Fatal(err)
	}

	in := []driver.Candidate{
		cand("a", "1", "x86_64", "a.rpm", 50, nil),
		cand("b", "1", "aarch64", "b.rpm", 50, nil),
		cand("c", "1", "noarch", "c.rpm", 500, nil),
	}
	got := names(r.Apply(in, cmpVersions))
	if diff := cmp.Diff(got, []string{"a-1"}); diff != "" {
		t.Error(diff)
	}
}

func TestSourceRPMAndFields(t *testing.T) {
	spec := &Spec{}
	spec.RPM.ExcludeSourceRPMs = true
	spec.RPM.Licenses.Exclude = []string{"Proprietary"}
	r, err := Compile(spec)
	if err != nil {
		t.Fatal(err)
	}

	in := []driver.Candidate{
		cand("a", "1", "x86_64", "a-1.x86_64.rpm", 1, map[string]string{"license": "MIT"}),
		cand("a", "1", "src", "a-1.src.rpm", 1, map[string]string{"license": "MIT"}),
		cand("b", "1", "x86_64", "b-1.x86_64.rpm", 1, map[string]string{"license": "Proprietary"}),
	}
	got := names(r.Apply(in, cmpVersions))
	if diff := cmp.Diff(got, []string{"a-1"}); diff != "" {
		t.Error(diff)
	}
}

func TestOnlyLatest(t *testing.T) {
	spec := &Spec{}
	spec.PostProcessing.OnlyLatestVersion = true
	r, err := Compile(spec)
	if err != nil {
		t.Fatal(err)
	}

	in := []driver.Candidate{
		cand("kernel", "5.14.0-360", "x86_64", "k360.rpm", 1, nil),
		cand("kernel", "5.14.0-362", "x86_64", "k362.rpm", 1, nil),
		cand("kernel", "5.14.0-362", "aarch64", "k362a.rpm", 1, nil),
	}
	got := names(r.Apply(in, cmpVersions))
	want := []string{"kernel-5.14.0-362", "kernel-5.14.0-362"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Error(diff)
	}
}

func TestOnlyLatestN(t *testing.T) {
	spec := &Spec{}
	spec.PostProcessing.OnlyLatestNVersions = 2
	r, err := Compile(spec)
	if err != nil {
		t.Fatal(err)
	}

	in := []driver.Candidate{
		cand("nginx", "1.20", "x86_64", "n1.rpm", 1, nil),
		cand("nginx", "1.22", "x86_64", "n2.rpm", 1, nil),
		cand("nginx", "1.24", "x86_64", "n3.rpm", 1, nil),
	}
	got := names(r.Apply(in, cmpVersions))
	want := []string{"nginx-1.22", "nginx-1.24"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Error(diff)
	}
}

func TestBadPattern(t *testing.T) {
	spec := &Spec{}
	spec.Patterns.Include = []string{`([`}
	if _, err := Compile(spec); err == nil {
		t.Fatal("compile accepted an invalid regexp")
	}
}

func TestEmptySpecKeepsAll(t *testing.T) {
	r, err := Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	in := []driver.Candidate{
		cand("a", "1", "x86_64", "a.rpm", 1, nil),
		cand("b", "2", "s390x", "b.rpm", 1, nil),
	}
	if got := r.Apply(in, cmpVersions); len(got) != len(in) {
		t.Errorf("empty rules dropped candidates: %d of %d", len(got), len(in))
	}
}
