package linktransport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkPlanDefaultVsAdaptive(t *testing.T) {
	size, delay := chunkPlan(100, 512)
	assert.Equal(t, defaultChunkSize, size)
	assert.Equal(t, fragmentDelay, int(delay.Milliseconds()))

	size, delay = chunkPlan(6*1024, 512)
	assert.Equal(t, adaptiveChunkSize, size)
	assert.Equal(t, adaptiveFragDelay, int(delay.Milliseconds()))
}

func TestFragmentExactness(t *testing.T) {
	payload := []byte(strings.Repeat("x", 1000))
	frags := fragment(payload, 244)

	var rebuilt bytes.Buffer
	for i, f := range frags {
		if i == len(frags)-1 {
			require.Equal(t, byte(terminator), f[len(f)-1])
			rebuilt.Write(f[:len(f)-1])
		} else {
			require.LessOrEqual(t, len(f), 244)
			rebuilt.Write(f)
		}
	}
	assert.Equal(t, payload, rebuilt.Bytes())
}

func TestFragmentSmallPayloadSingleChunkWithTerminator(t *testing.T) {
	frags := fragment([]byte("hi"), 244)
	require.Len(t, frags, 1)
	assert.Equal(t, []byte("hi\n"), frags[0])
}

func TestReassemblerJoinsFragmentsAtTerminator(t *testing.T) {
	var r reassembler
	msg, complete, err := r.Feed([]byte("hel"))
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, msg)

	msg, complete, err = r.Feed([]byte("lo\n"))
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, []byte("hello"), msg)
}

func TestReassemblerHandlesBackToBackMessages(t *testing.T) {
	var r reassembler
	msg, complete, err := r.Feed([]byte("one\ntwo\n"))
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, []byte("one"), msg)

	msg, complete, err = r.Feed(nil)
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, []byte("two"), msg)
}

// TestBackPressureBoundary is spec.md §8's exact boundary property: a
// message of precisely maxResponseSizeBytes succeeds, one byte more fails.
func TestBackPressureBoundary(t *testing.T) {
	ok := bytes.Repeat([]byte("a"), maxResponseSizeBytes)
	ok = append(ok, terminator)

	var r reassembler
	msg, complete, err := r.Feed(ok)
	require.NoError(t, err)
	require.True(t, complete)
	assert.Len(t, msg, maxResponseSizeBytes)

	tooBig := bytes.Repeat([]byte("a"), maxResponseSizeBytes+1)
	tooBig = append(tooBig, terminator)

	var r2 reassembler
	_, _, err = r2.Feed(tooBig)
	assert.ErrorIs(t, err, ErrResponseOversize)
}
