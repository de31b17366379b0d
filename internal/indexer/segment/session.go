package segment

import (
	"cmp"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/attrs"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
)

// TagOf returns the tag of a term: the text before its first ':' or the
// empty tag when the term has none.
func TagOf(term string) string {
	if i := strings.IndexByte(term, ':'); i >= 0 {
		return term[:i]
	}
	return ""
}

// Tag flags stored in the tag file.
const (
	tagMulti        byte = 0x01
	tagSet          byte = 0x02
	tagIntersecting byte = 0x04
)

type tagStats struct {
	name  string
	flags byte
	count int
}

// session carries the per-field build state shared by the three phases.
type session struct {
	field   string
	tags    []*tagStats
	byName  map[string]uint32
	terms   int
	tokens  int
	skipped int
}

func newSession(field string) *session {
	return &session{field: field, byName: make(map[string]uint32)}
}

func (s *session) tagID(name string) uint32 {
	if id, ok := s.byName[name]; ok {
		return id
	}
	id := uint32(len(s.tags))
	s.tags = append(s.tags, &tagStats{name: name})
	s.byName[name] = id
	return id
}

// observe records one token of the tag. A tag starts out single-position
// and is demoted the first time it carries a range or a set.
func (s *session) observe(tag uint32, shape payload.Shape) {
	t := s.tags[tag]
	t.count++
	switch shape {
	case payload.ShapeRange:
		t.flags |= tagMulti
	case payload.ShapeSet:
		t.flags |= tagMulti | tagSet
	}
}

type tagSpan struct {
	tag    uint32
	lo, hi int
}

// markIntersecting flags every tag having two tokens in the same document
// whose position spans overlap.
func (s *session) markIntersecting(spans []tagSpan) {
	slices.SortFunc(spans, func(a, b tagSpan) int {
		if c := cmp.Compare(a.tag, b.tag); c != 0 {
			return c
		}
		return cmp.Compare(a.lo, b.lo)
	})
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if prev.tag != cur.tag {
			continue
		}
		if cur.lo <= prev.hi {
			s.tags[cur.tag].flags |= tagIntersecting
		}
		// carry the furthest reach forward
		if prev.hi > cur.hi {
			spans[i].hi = prev.hi
		}
	}
}

func (s *session) attributes(segment string) attrs.FieldAttributes {
	a := attrs.FieldAttributes{Segment: segment, Field: s.field}
	for _, t := range s.tags {
		if t.count == 0 {
			continue
		}
		if t.flags&tagMulti == 0 {
			a.SingleTags = append(a.SingleTags, t.name)
		} else {
			a.MultiTags = append(a.MultiTags, t.name)
		}
		if t.flags&tagSet != 0 {
			a.SetTags = append(a.SetTags, t.name)
		}
		if t.flags&tagIntersecting != 0 {
			a.IntersectingTags = append(a.IntersectingTags, t.name)
		}
	}
	for _, l := range [][]string{a.SingleTags, a.MultiTags, a.SetTags, a.IntersectingTags} {
		slices.Sort(l)
	}
	return a
}
