package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoord(t *testing.T) {
	x, y, err := ParseCoord("(2,-3)")
	require.NoError(t, err)
	assert.Equal(t, 2, x)
	assert.Equal(t, -3, y)

	for _, bad := range []string{"2,-3", "(2, -3)", "(a,b)", "(2,3", ""} {
		_, _, err := ParseCoord(bad)
		assert.Error(t, err, "token %q", bad)
	}
}

func TestParseCount(t *testing.T) {
	n, err := ParseCount("25")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = ParseCount("0")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ParseCount("-1")
	assert.Error(t, err)
	_, err = ParseCount("lots")
	assert.Error(t, err)
}

func TestPositional(t *testing.T) {
	args := []string{"jeff", "(1,2)", "--recovered", "50", "--env=.env"}
	assert.Equal(t, []string{"(1,2)", "50"}, Positional(args))
}

func TestHasFlag(t *testing.T) {
	args := []string{"jeff", "(1,2)", "--recovered"}
	assert.True(t, HasFlag(args, "--recovered"))
	assert.False(t, HasFlag(args, "--no-recycle"))
}

func TestLookup(t *testing.T) {
	fn, err := Lookup("gather")
	require.NoError(t, err)
	assert.NotNil(t, fn)

	_, err = Lookup("alchemy")
	assert.Error(t, err)

	assert.Contains(t, Names(), "fight")
	assert.Contains(t, Names(), "deposit")
}
