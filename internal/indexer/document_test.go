package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

func TestBuildTokens(t *testing.T) {
	fields, err := BuildTokens(Document{
		Fields: map[string]string{"body": "Foxes run"},
		Annotations: []Annotation{
			{Field: "body", Term: "coref:fox", Positions: []int{3, 0, 3}},
			{Field: "meta", Term: "lang:en", Position: 0},
		},
	})
	require.NoError(t, err)

	body := fields["body"]
	require.Len(t, body, 3)
	assert.Equal(t, "fox", body[0].Term)
	assert.Equal(t, 0, body[0].Descriptor.ID)
	assert.Equal(t, &payload.OffsetPair{Start: 0, End: 5}, body[0].Descriptor.Offset)
	assert.Equal(t, "run", body[1].Term)
	assert.Equal(t, 1, body[1].Descriptor.Start)

	set := body[2].Descriptor
	assert.Equal(t, 2, set.ID)
	assert.Equal(t, payload.ShapeSet, set.Shape)
	assert.Equal(t, []int{0, 3}, set.Positions)
	assert.Equal(t, 0, set.Start)

	meta := fields["meta"]
	require.Len(t, meta, 1)
	assert.Equal(t, 0, meta[0].Descriptor.ID)
	assert.Equal(t, payload.ShapeSingle, meta[0].Descriptor.Shape)
}

func TestBuildTokensRejectsIncompleteAnnotation(t *testing.T) {
	_, err := BuildTokens(Document{Annotations: []Annotation{{Field: "body"}}})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
