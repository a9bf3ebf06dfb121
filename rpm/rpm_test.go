package rpm

import (
	"encoding/xml"
	"testing"
)

func TestCmp(t *testing.T) {
	p := New(nil)
	tests := []struct {
		a, b string
		want int // sign only
	}{
		{"1:1.2.3-1", "1.2.4-1", 1},
		{"1.0~rc1", "1.0", -1},
		{"1.0", "1.0.0", -1},
		{"2.el9", "10.el9", -1},
		{"9.0.2120-1.el9", "9.0.2120-1.el9", 0},
		{"5.14.0-362.el9", "5.14.0-360.el9", 1},
		{"1.0-1", "1.0-1.1", -1},
		{"0:1.0", "1.0", 0},
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

func TestSplitEVR(t *testing.T) {
	tests := []struct {
		in                  string
		epoch, ver, release string
	}{
		{"2:9.0.2120-1.el9", "2", "9.0.2120", "1.el9"},
		{"9.0.2120-1.el9", "", "9.0.2120", "1.el9"},
		{"1.0", "", "1.0", ""},
	}
	for _, tc := range tests {
		e, v, r := splitEVR(tc.in)
		if e != tc.epoch || v != tc.ver || r != tc.release {
			t.Errorf("splitEVR(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tc.in, e, v, r, tc.epoch, tc.ver, tc.release)
		}
	}
}

func TestEVR(t *testing.T) {
	if got := evr("0", "1.0", "1"); got != "1.0-1" {
		t.Errorf("zero epoch not elided: %q", got)
	}
	if got := evr("2", "9.0", "1.el9"); got != "2:9.0-1.el9" {
		t.Errorf("got %q", got)
	}
}

func TestRepoMDDecode(t *testing.T) {
	// The checksum type rides in a lowercase attribute; createrepo_c
	// writes <checksum type="sha256">.
	const doc = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <revision>1700000000</revision>
  <data type="primary">
    <checksum type="sha256">aaaa</checksum>
    <open-checksum type="sha256">bbbb</open-checksum>
    <location href="repodata/aaaa-primary.xml.gz"/>
    <timestamp>1700000000</timestamp>
    <size>123</size>
    <open-size>456</open-size>
  </data>
</repomd>`
	var md repoMD
	if err := xml.Unmarshal([]byte(doc), &md); err != nil {
		t.Fatal(err)
	}
	if len(md.Data) != 1 {
		t.Fatalf("parsed %d data entries", len(md.Data))
	}
	d := &md.Data[0]
	if d.Checksum.Type != "sha256" || d.Checksum.Sum != "aaaa" {
		t.Errorf("checksum %+v", d.Checksum)
	}
	if d.OpenChecksum.Type != "sha256" || d.OpenChecksum.Sum != "bbbb" {
		t.Errorf("open-checksum %+v", d.OpenChecksum)
	}
	if d.Location.Href != "repodata/aaaa-primary.xml.gz" {
		t.Errorf("location %+v", d.Location)
	}
}

func TestPackagePath(t *testing.T) {
	if got := packagePath("Vim-common-9.0.rpm"); got != "Packages/v/Vim-common-9.0.rpm" {
		t.Errorf("got %q", got)
	}
}
