package rpm

import "encoding/xml"

// The repomd.xml document: the top-level index pointing at typed data
// files. Conforms to http://linux.duke.edu/metadata/repo.

type repoMD struct {
	XMLName  xml.Name     `xml:"repomd"`
	Revision int64        `xml:"revision"`
	Data     []repoMDData `xml:"data"`
}

type repoMDData struct {
	Type         string     `xml:"type,attr"`
	Checksum     mdChecksum `xml:"checksum"`
	OpenChecksum mdChecksum `xml:"open-checksum"`
	Location     mdLocation `xml:"location"`
	Timestamp    int64      `xml:"timestamp"`
	Size         int64      `xml:"size"`
	OpenSize     int64      `xml:"open-size"`
}

type mdChecksum struct {
	Type string `xml:"type,attr"`
	Sum  string `xml:",chardata"`
}

type mdLocation struct {
	Href string `xml:"href,attr"`
}

// Generation-side structs. encoding/xml writes tag names literally, so
// the namespace declarations live on the root element and prefixed names
// are spelled out.

type genRepoMD struct {
	XMLName  xml.Name        `xml:"repomd"`
	XMLNS    string          `xml:"xmlns,attr"`
	XMLNSRPM string          `xml:"xmlns:rpm,attr"`
	Revision int64           `xml:"revision"`
	Data     []genRepoMDData `xml:"data"`
}

type genRepoMDData struct {
	Type         string      `xml:"type,attr"`
	Checksum     genChecksum `xml:"checksum"`
	OpenChecksum genChecksum `xml:"open-checksum"`
	Location     mdLocation  `xml:"location"`
	Timestamp    int64       `xml:"timestamp"`
	Size         int64       `xml:"size"`
	OpenSize     int64       `xml:"open-size"`
}

type genChecksum struct {
	Type string `xml:"type,attr"`
	Sum  string `xml:",chardata"`
}

const (
	xmlnsRepo   = "http://linux.duke.edu/metadata/repo"
	xmlnsCommon = "http://linux.duke.edu/metadata/common"
	xmlnsRPM    = "http://linux.duke.edu/metadata/rpm"
	xmlnsFiles  = "http://linux.duke.edu/metadata/filelists"
	xmlnsOther  = "http://linux.duke.edu/metadata/other"
)
