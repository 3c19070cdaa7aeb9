package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCursorParams(t *testing.T) {
	params, err := ParseCursorParams("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, params.Limit)
	assert.Nil(t, params.Cursor)

	params, err = ParseCursorParams("1000", "")
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, params.Limit)

	params, err = ParseCursorParams("0", "")
	require.NoError(t, err)
	assert.Equal(t, MinLimit, params.Limit)

	_, err = ParseCursorParams("ten", "")
	assert.Error(t, err)

	_, err = ParseCursorParams("10", "%%%")
	assert.Error(t, err)
}

func TestCursorRoundTrip(t *testing.T) {
	state := []byte{0x01, 0xfe, 0x10}
	page := BuildCursorPage([]string{"a"}, state)
	assert.True(t, page.HasMore)

	params, err := ParseCursorParams("5", page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, state, params.Cursor)

	last := BuildCursorPage([]string{}, nil)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextCursor)
}
