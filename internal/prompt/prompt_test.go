package prompt

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/vector"
)

var defaults = sampling.Params{MaxSamples: 50, Threshold: 0.2}

func TestParams(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("Hello\n10\n0.5\n"), &out, defaults)

	params, ok, err := term.Params(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hello", params.Label)
	assert.Equal(t, 10, params.MaxSamples)
	assert.Equal(t, 0.5, params.Threshold)
	assert.Contains(t, out.String(), "default 50")
}

func TestParams_Defaults(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("a\n\nabc\n"), &out, defaults)

	params, ok, err := term.Params(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50, params.MaxSamples)
	assert.Equal(t, 0.2, params.Threshold)
	assert.Contains(t, out.String(), "not a number")
}

func TestParams_Stop(t *testing.T) {
	for name, input := range map[string]string{"empty label": "\n", "eof": ""} {
		t.Run(name, func(t *testing.T) {
			term := New(strings.NewReader(input), &bytes.Buffer{}, defaults)
			_, ok, err := term.Params(context.Background())
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestParams_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(strings.NewReader("a\n"), &bytes.Buffer{}, defaults).Params(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfirm(t *testing.T) {
	session, err := sampling.NewSession(sampling.Params{Label: "a", MaxSamples: 1, Threshold: 0}, vector.HandsOnlyLayout())
	require.NoError(t, err)

	cases := map[string]bool{"q\n": false, "Q\n": false, "\n": true, "": true, "keep\n": true}
	for input, want := range cases {
		var out bytes.Buffer
		keep, err := New(strings.NewReader(input), &out, defaults).Confirm(context.Background(), session)
		require.NoError(t, err)
		assert.Equal(t, want, keep, "input %q", input)
		assert.Contains(t, out.String(), "Session a:")
	}
}

func TestSelection(t *testing.T) {
	entries := []dataset.Entry{
		{Filename: "data/features/a/a_1.npy", Label: "a"},
		{Filename: "data/features/b/b_1.npy", Label: "b"},
	}

	var out bytes.Buffer
	term := New(strings.NewReader("x,1\n1, 0\n"), &out, defaults)

	indices, err := term.Selection(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, indices)
	assert.Contains(t, out.String(), "[1] data/features/b/b_1.npy  (b)")
	assert.Contains(t, out.String(), `invalid index "x"`)
}

func TestSelection_Cancel(t *testing.T) {
	entries := []dataset.Entry{{Filename: "f.npy", Label: "a"}}

	indices, err := New(strings.NewReader("\n"), &bytes.Buffer{}, defaults).Selection(context.Background(), entries)
	require.NoError(t, err)
	assert.Empty(t, indices)

	indices, err = New(strings.NewReader(""), &bytes.Buffer{}, defaults).Selection(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestParseIndices(t *testing.T) {
	got, err := ParseIndices(" 3,0,,7 ")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0, 7}, got)

	_, err = ParseIndices(",,")
	assert.Error(t, err)

	_, err = ParseIndices("1,two")
	assert.Error(t, err)
}
