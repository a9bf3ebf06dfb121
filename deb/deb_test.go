package deb

import (
	"strings"
	"testing"
)

func TestCmp(t *testing.T) {
	p := New(nil, Config{Dist: "jammy"})
	tests := []struct {
		a, b string
		want int
	}{
		{"2:8.2.3995-1ubuntu2", "2:8.2.3995-1ubuntu2.24", -1},
		{"1.0~rc1-1", "1.0-1", -1},
		{"1:1.0-1", "2.0-1", 1},
		{"5.1-1", "5.1-1", 0},
		{"1.20.2-1", "1.9.9-1", 1},
	}
	for _, tc := range tests {
		got := p.Cmp(tc.a, tc.b)
		switch {
		case tc.want < 0 && got >= 0,
			tc.want == 0 && got != 0,
			tc.want > 0 && got <= 0:
			t.Errorf("Cmp(%q, %q) = %d, want sign %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestPoolLetter(t *testing.T) {
	tests := []struct{ in, want string }{
		{"vim", "v"},
		{"libssl", "libs"},
		{"lib", "l"},
	}
	for _, tc := range tests {
		if got := poolLetter(tc.in); got != tc.want {
			t.Errorf("poolLetter(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

const releaseFixture = `-----BEGIN PGP SIGNED MESSAGE-----
Hash: SHA512

Origin: Ubuntu
Codename: jammy
Suite: jammy
Components: main restricted
Architectures: amd64 arm64
Date: Thu, 05 Jun 2025 10:00:00 UTC
SHA256:
 9ab12c61e6b3358c0fa1b678283a1e7202f20de8c12d1d8cfe1c63e80a8990c6          1084372 main/binary-amd64/Packages.gz
 b31bf744bef6be2e9d1c544b0cf5e3bf26c2db8e5d9a94dd366b4e7d26b4bbdf          8523684 main/binary-amd64/Packages
 11aa0b6f1e2b33a53ee61e8fa2b64cf01aa335500abf6e12e5af12f9a2d8fb27              271 main/binary-amd64/Release
-----BEGIN PGP SIGNATURE-----

iQIzBAEBCgAdFiEE...
-----END PGP SIGNATURE-----
`

func TestParseRelease(t *testing.T) {
	rel, err := parseRelease(strings.NewReader(releaseFixture))
	if err != nil {
		t.Fatal(err)
	}
	if rel.Codename != "jammy" {
		t.Errorf("codename %q", rel.Codename)
	}
	if len(rel.Components) != 2 || rel.Components[0] != "main" {
		t.Errorf("components %v", rel.Components)
	}
	if len(rel.Architectures) != 2 {
		t.Errorf("architectures %v", rel.Architectures)
	}
	if len(rel.Files) != 3 {
		t.Fatalf("parsed %d stanza files, want 3", len(rel.Files))
	}
	f := rel.Files[0]
	if f.Path != "main/binary-amd64/Packages.gz" || f.Size != 1084372 {
		t.Errorf("first stanza file %+v", f)
	}
}

const packagesFixture = `Package: vim
Version: 2:8.2.3995-1ubuntu2.24
Architecture: amd64
Maintainer: Ubuntu Developers <ubuntu-devel-discuss@lists.ubuntu.com>
Depends: vim-common (= 2:8.2.3995-1ubuntu2.24), libacl1
Section: editors
Priority: optional
Filename: pool/main/v/vim/vim_8.2.3995-1ubuntu2.24_amd64.deb
Size: 1731742
SHA256: 8b0c51a1c73b255b2cda358e85e6aab08b9aa38f901a2e423a142124d531c7d4
Description: Vi IMproved - enhanced vi editor
 Vim is an almost compatible version of the UNIX editor Vi.

Package: nano
Version: 6.2-1
Architecture: amd64
Filename: pool/main/n/nano/nano_6.2-1_amd64.deb
Size: 280768
SHA256: 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
Description: small, friendly text editor
`

func TestParsePackages(t *testing.T) {
	cands, err := parsePackages(strings.NewReader(packagesFixture), "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("parsed %d packages, want 2", len(cands))
	}
	vim := cands[0]
	if vim.Item.Name != "vim" || vim.Item.Version != "2:8.2.3995-1ubuntu2.24" {
		t.Errorf("vim parsed as %s %s", vim.Item.Name, vim.Item.Version)
	}
	if vim.Item.Filename != "vim_8.2.3995-1ubuntu2.24_amd64.deb" {
		t.Errorf("filename %q", vim.Item.Filename)
	}
	if vim.Href != "pool/main/v/vim/vim_8.2.3995-1ubuntu2.24_amd64.deb" {
		t.Errorf("href %q", vim.Href)
	}
	if vim.Item.Metadata["Depends"] == "" || vim.Item.Metadata["component"] != "main" {
		t.Errorf("metadata %v", vim.Item.Metadata)
	}
}

func TestParsePackagesRejectsMissingSHA(t *testing.T) {
	const doc = `Package: broken
Version: 1
Filename: pool/b/broken_1.deb
Size: 1
`
	if _, err := parsePackages(strings.NewReader(doc), "main"); err == nil {
		t.Fatal("paragraph without SHA256 accepted")
	}
}
