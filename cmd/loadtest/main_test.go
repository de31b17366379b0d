package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetCyclesKinds(t *testing.T) {
	cfg := Config{BaseURL: "http://h", Docs: 2, DocPrefix: "doc-", Field: "body", MaxToken: 20}

	kind, u := target(cfg, 0)
	assert.Equal(t, "id", kind)
	assert.Equal(t, "http://h/api/v1/tokens/doc-0/body/0", u)

	kind, u = target(cfg, 1)
	assert.Equal(t, "range", kind)
	assert.Equal(t, "http://h/api/v1/tokens/doc-0/body?from=1&to=4", u)

	kind, u = target(cfg, 5)
	assert.Equal(t, "parent", kind)
	assert.Equal(t, "http://h/api/v1/tokens/doc-1/body?parent=5", u)
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}
