package payload

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// Record is a token as stored in the scratch and final object stores: the
// descriptor plus the term and tag it was collected under.
type Record struct {
	TermRef int64
	Tag     uint32
	Token   *Descriptor
}

// AppendRecord appends the length-prefixed record encoding to dst.
//
//	length, termRef, tag, start (zigzag), payload encoding
func AppendRecord(dst []byte, rec Record) []byte {
	body := make([]byte, 0, 24+len(rec.Token.Payload))
	body = binary.AppendUvarint(body, uint64(rec.TermRef))
	body = binary.AppendUvarint(body, uint64(rec.Tag))
	body = binary.AppendVarint(body, int64(rec.Token.Start))
	body = AppendEncode(body, rec.Token)
	dst = binary.AppendUvarint(dst, uint64(len(body)))
	return append(dst, body...)
}

// ParseRecord decodes a record body (without its length prefix).
func ParseRecord(body []byte) (Record, error) {
	r := reader{buf: body}
	termRef := r.uvarint()
	tag := r.uvarint()
	start := r.varint()
	if r.err != nil {
		return Record{}, fmt.Errorf("%w: record header: %v", apperrors.ErrPayloadDecode, r.err)
	}
	d, err := Decode(int(start), body[r.pos:])
	if err != nil {
		return Record{}, err
	}
	if d == nil {
		return Record{}, apperrors.Format("stored record without token id")
	}
	return Record{TermRef: int64(termRef), Tag: uint32(tag), Token: d}, nil
}
