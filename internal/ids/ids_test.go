package ids_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/ragguard/internal/ids"
)

func TestUUIDGeneratorProducesDistinctValues(t *testing.T) {
	gen := ids.NewUUIDGenerator()

	first, err := gen.Generate(context.Background())
	require.NoError(t, err)
	second, err := gen.Generate(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestQuarantineIDIncludesTimestampAndDocID(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := ids.QuarantineID(now, "doc-1")
	assert.Equal(t, "Q-1767323045000000000-doc-1", got)
}

func TestQuarantineIDDiffersByTimestamp(t *testing.T) {
	a := ids.QuarantineID(time.Unix(0, 1), "doc-1")
	b := ids.QuarantineID(time.Unix(0, 2), "doc-1")
	assert.NotEqual(t, a, b)
}

func TestEventCounterStartsAtOneAndIncrements(t *testing.T) {
	c := ids.NewEventCounter()
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Next())
	assert.Equal(t, uint64(3), c.Next())
}

func TestEventCounterIsSafeForConcurrentUse(t *testing.T) {
	c := ids.NewEventCounter()
	const n = 100
	seen := make(chan uint64, n)

	for i := 0; i < n; i++ {
		go func() { seen <- c.Next() }()
	}

	unique := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		unique[<-seen] = true
	}
	assert.Len(t, unique, n, "every concurrent Next() call must return a distinct value")
}
