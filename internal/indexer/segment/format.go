package segment

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// Every companion file starts with a header and ends with a footer:
//
//	header: magic u32 | codec str | version u32 | segment id [16] | suffix str | delegate str
//	footer: footer magic u32 | crc32c u32 of every preceding byte
//
// str is a uvarint length followed by the bytes. Fixed-width integers are
// little endian.
const (
	Magic       uint32 = 0x46574458
	FooterMagic uint32 = 0x58445746

	VersionStart   uint32 = 1
	VersionCurrent uint32 = 1

	FooterSize = 8

	maxHeaderString = 255
	maxHeaderSize   = 4 + 1 + maxHeaderString + 4 + 16 + 2*(2+maxHeaderString)
)

// Kind identifies one companion file of a segment.
type Kind int

const (
	KindObjects Kind = iota
	KindTerms
	KindTags
	KindFields
	KindDocs
	KindIDIndex
	KindPositions
	KindParents
	KindDocTrees
	numKinds
)

type kindInfo struct {
	ext      string
	codec    string
	optional bool
}

var kinds = [numKinds]kindInfo{
	KindObjects:   {ext: "fwo", codec: "ForwardObjects"},
	KindTerms:     {ext: "fwt", codec: "ForwardTerms"},
	KindTags:      {ext: "fwg", codec: "ForwardTags"},
	KindFields:    {ext: "fwf", codec: "ForwardFields"},
	KindDocs:      {ext: "fwd", codec: "ForwardDocs"},
	KindIDIndex:   {ext: "fwi", codec: "ForwardIDIndex"},
	KindPositions: {ext: "fwp", codec: "ForwardPositionTrees"},
	KindParents:   {ext: "fwr", codec: "ForwardParentTrees", optional: true},
	KindDocTrees:  {ext: "fwx", codec: "ForwardDocTrees"},
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kinds[k].codec
}

// Codec returns the codec name written into the header of files of kind k.
func (k Kind) Codec() string { return kinds[k].codec }

// FileName returns the name of the kind k file of a segment.
func FileName(segment, suffix string, k Kind) string {
	if suffix == "" {
		return fmt.Sprintf("%s.%s", segment, kinds[k].ext)
	}
	return fmt.Sprintf("%s_%s.%s", segment, suffix, kinds[k].ext)
}

// Header is the decoded header of a companion file.
type Header struct {
	Codec     string
	Version   uint32
	SegmentID uuid.UUID
	Suffix    string
	Delegate  string
}

// Encode returns the header bytes.
func (h Header) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	buf = appendString(buf, h.Codec)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.SegmentID[:]...)
	buf = appendString(buf, h.Suffix)
	buf = appendString(buf, h.Delegate)
	return buf
}

// ReadHeader reads and decodes the header at the start of r and returns it
// with its encoded length.
func ReadHeader(r io.ReaderAt) (Header, int64, error) {
	buf := make([]byte, maxHeaderSize)
	n, err := r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return Header{}, 0, fmt.Errorf("reading header: %w", err)
	}
	return DecodeHeader(buf[:n])
}

// DecodeHeader decodes a header from the start of buf.
func DecodeHeader(buf []byte) (Header, int64, error) {
	var h Header
	if len(buf) < 4 {
		return h, 0, apperrors.Format("file too small for header")
	}
	if magic := binary.LittleEndian.Uint32(buf); magic != Magic {
		return h, 0, apperrors.Format("bad magic %#x", magic)
	}
	pos := 4
	var ok bool
	if h.Codec, pos, ok = readString(buf, pos); !ok {
		return h, 0, apperrors.Format("truncated codec name")
	}
	if len(buf) < pos+4+16 {
		return h, 0, apperrors.Format("truncated header")
	}
	h.Version = binary.LittleEndian.Uint32(buf[pos:])
	pos += 4
	copy(h.SegmentID[:], buf[pos:pos+16])
	pos += 16
	if h.Suffix, pos, ok = readString(buf, pos); !ok {
		return h, 0, apperrors.Format("truncated segment suffix")
	}
	if h.Delegate, pos, ok = readString(buf, pos); !ok {
		return h, 0, apperrors.Format("truncated delegate codec name")
	}
	return h, int64(pos), nil
}

// Check validates h against the expected codec and supported version range.
func (h Header) Check(codec string, minVersion, maxVersion uint32) error {
	if h.Codec != codec {
		return apperrors.Format("codec mismatch: expected %q, got %q", codec, h.Codec)
	}
	if h.Version < minVersion || h.Version > maxVersion {
		return apperrors.Format("%s: unsupported version %d (supported %d..%d)", codec, h.Version, minVersion, maxVersion)
	}
	return nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readString(buf []byte, pos int) (string, int, bool) {
	n, k := binary.Uvarint(buf[pos:])
	if k <= 0 || n > maxHeaderString || uint64(len(buf)-pos-k) < n {
		return "", pos, false
	}
	pos += k
	return string(buf[pos : pos+int(n)]), pos + int(n), true
}
