package segment

import (
	"encoding/binary"
	"errors"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

var errShort = errors.New("unexpected end of record")

// decoder reads varints from a record body, remembering the first error.
type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		d.err = errShort
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf[d.pos:])
	if n <= 0 {
		d.err = errShort
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) u8() byte {
	if d.err != nil {
		return 0
	}
	if d.pos >= len(d.buf) {
		d.err = errShort
		return 0
	}
	b := d.buf[d.pos]
	d.pos++
	return b
}

func (d *decoder) str() string {
	n := d.uvarint()
	if d.err != nil {
		return ""
	}
	if n > uint64(len(d.buf)-d.pos) {
		d.err = errShort
		return ""
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s
}

// docRecord locates everything stored for one document of one field.
type docRecord struct {
	Doc        int
	IDIndex    int64
	PosRoot    int64
	ParentRoot int64
	Base       int64
	Intercept  int64
	Slope      int64
	WidthTag   byte
	Tokens     int
	MinPos     int
	MaxPos     int
}

func (r *docRecord) append(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(r.Doc))
	dst = binary.AppendUvarint(dst, uint64(r.IDIndex))
	dst = binary.AppendVarint(dst, r.PosRoot)
	dst = binary.AppendVarint(dst, r.ParentRoot)
	dst = binary.AppendUvarint(dst, uint64(r.Base))
	dst = binary.AppendVarint(dst, r.Intercept)
	dst = binary.AppendVarint(dst, r.Slope)
	dst = append(dst, r.WidthTag)
	dst = binary.AppendUvarint(dst, uint64(r.Tokens))
	dst = binary.AppendVarint(dst, int64(r.MinPos))
	dst = binary.AppendVarint(dst, int64(r.MaxPos))
	return dst
}

func parseDocRecord(body []byte) (docRecord, error) {
	d := decoder{buf: body}
	r := docRecord{
		Doc:        int(d.uvarint()),
		IDIndex:    int64(d.uvarint()),
		PosRoot:    d.varint(),
		ParentRoot: d.varint(),
		Base:       int64(d.uvarint()),
		Intercept:  d.varint(),
		Slope:      d.varint(),
		WidthTag:   d.u8(),
		Tokens:     int(d.uvarint()),
		MinPos:     int(d.varint()),
		MaxPos:     int(d.varint()),
	}
	if d.err != nil {
		return docRecord{}, apperrors.Format("document record: %v", d.err)
	}
	return r, nil
}

// fieldEntry is one field of the field directory.
type fieldEntry struct {
	Name       string
	Docs       int
	DocRoot    int64
	DocBase    int64
	TermsStart int64
	Terms      int
	TagsStart  int64
	Tags       int
	Tokens     int
	Skipped    int
}

func (e *fieldEntry) append(dst []byte) []byte {
	dst = appendString(dst, e.Name)
	dst = binary.AppendUvarint(dst, uint64(e.Docs))
	dst = binary.AppendVarint(dst, e.DocRoot)
	dst = binary.AppendUvarint(dst, uint64(e.DocBase))
	dst = binary.AppendUvarint(dst, uint64(e.TermsStart))
	dst = binary.AppendUvarint(dst, uint64(e.Terms))
	dst = binary.AppendUvarint(dst, uint64(e.TagsStart))
	dst = binary.AppendUvarint(dst, uint64(e.Tags))
	dst = binary.AppendUvarint(dst, uint64(e.Tokens))
	dst = binary.AppendUvarint(dst, uint64(e.Skipped))
	return dst
}

func parseFieldEntry(body []byte) (fieldEntry, error) {
	d := decoder{buf: body}
	e := fieldEntry{
		Name:       d.str(),
		Docs:       int(d.uvarint()),
		DocRoot:    d.varint(),
		DocBase:    int64(d.uvarint()),
		TermsStart: int64(d.uvarint()),
		Terms:      int(d.uvarint()),
		TagsStart:  int64(d.uvarint()),
		Tags:       int(d.uvarint()),
		Tokens:     int(d.uvarint()),
		Skipped:    int(d.uvarint()),
	}
	if d.err != nil {
		return fieldEntry{}, apperrors.Format("field entry: %v", d.err)
	}
	return e, nil
}

// TagInfo describes one tag of a field.
type TagInfo struct {
	ID           uint32 `json:"id"`
	Name         string `json:"name"`
	Tokens       int    `json:"tokens"`
	Multi        bool   `json:"multi"`
	Set          bool   `json:"set"`
	Intersecting bool   `json:"intersecting"`
}

func appendTag(dst []byte, t *tagStats) []byte {
	dst = appendString(dst, t.name)
	dst = append(dst, t.flags)
	return binary.AppendUvarint(dst, uint64(t.count))
}

func parseTag(id uint32, body []byte) (TagInfo, error) {
	d := decoder{buf: body}
	name := d.str()
	flags := d.u8()
	count := d.uvarint()
	if d.err != nil {
		return TagInfo{}, apperrors.Format("tag %d: %v", id, d.err)
	}
	return TagInfo{
		ID:           id,
		Name:         name,
		Tokens:       int(count),
		Multi:        flags&tagMulti != 0,
		Set:          flags&tagSet != 0,
		Intersecting: flags&tagIntersecting != 0,
	}, nil
}
