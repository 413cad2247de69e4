// Package sidecar implements the two optional post-processors spec.md
// §4.4 hands to the downloader: an XMP companion document and an
// in-place EXIF DateTimeOriginal injection. Both are pure
// post-processors over an already-published file, never touching the
// reconciliation decision itself (spec.md §1 "EXIF/XMP sidecar
// writers — consumed as pure post-processors").
package sidecar

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
)

// filePerms matches the permissions the rest of the repo uses for
// published content.
const filePerms = 0o644

// xmpPacket is the minimal RDF/XMP document this writer emits: rating
// (derived from the favorite flag), creation date, and — when present
// — a marker that the asset carries a remote edit. No third-party XMP
// library appears anywhere in the example pack, so this is built on
// encoding/xml directly, matching the teacher's own preference for
// stdlib encoders over hand-rolled string templates.
type xmpPacket struct {
	XMLName xml.Name `xml:"x:xmpmeta"`
	XMLNSX  string   `xml:"xmlns:x,attr"`
	RDF     xmpRDF   `xml:"rdf:RDF"`
}

type xmpRDF struct {
	XMLNSRDF string        `xml:"xmlns:rdf,attr"`
	Desc     xmpDescriptor `xml:"rdf:Description"`
}

type xmpDescriptor struct {
	XMLNSXMP   string `xml:"xmlns:xmp,attr"`
	XMLNSPhoto string `xml:"xmlns:photoshop,attr"`
	Rating     int    `xml:"xmp:Rating"`
	CreateDate string `xml:"xmp:CreateDate"`
	Adjusted   bool   `xml:"photoshop:Urgent,omitempty"`
}

// Writer implements downloader.SidecarWriter and downloader.ExifWriter.
type Writer struct{}

// WriteXMP writes a `<target>.xmp` companion document derived from the
// asset's favorite flag (mapped to a 5-star rating, 0 otherwise),
// creation date, and whether the asset carries a parseable remote
// edit (spec.md §4.4).
func (Writer) WriteXMP(target naming.Path, asset *icloud.Asset) error {
	rating := 0
	if asset.IsFavorite {
		rating = 5
	}

	_, hasEdit := asset.Renditions[icloud.SizeAdjusted]

	packet := xmpPacket{
		XMLNSX: "adobe:ns:meta/",
		RDF: xmpRDF{
			XMLNSRDF: "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
			Desc: xmpDescriptor{
				XMLNSXMP:   "http://ns.adobe.com/xap/1.0/",
				XMLNSPhoto: "http://ns.adobe.com/photoshop/1.0/",
				Rating:     rating,
				CreateDate: asset.EffectiveCreatedAt().Format(time.RFC3339),
				Adjusted:   hasEdit,
			},
		},
	}

	data, err := xml.MarshalIndent(packet, "", "  ")
	if err != nil {
		return fmt.Errorf("sidecar: encoding xmp: %w", err)
	}

	data = append([]byte(xml.Header), data...)

	if err := os.WriteFile(string(target)+".xmp", data, filePerms); err != nil {
		return fmt.Errorf("sidecar: writing xmp for %s: %w", target, err)
	}

	return nil
}
