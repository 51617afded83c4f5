package replay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const capture = `# captured 2024-03-01
1 01:00:00:80:41:00:00:48:42

2 0102030405
1 -
`

func TestReplay(t *testing.T) {
	e := New(strings.NewReader(capture))

	type got struct {
		pipe int
		n    int
	}
	var frames []got
	for {
		ready, err := e.DataReady()
		require.NoError(t, err)
		if !ready {
			break
		}
		again, err := e.DataReady()
		require.NoError(t, err)
		require.True(t, again)

		pipe, payload, err := e.ReadFrame()
		require.NoError(t, err)
		frames = append(frames, got{pipe, len(payload)})
	}

	assert.Equal(t, []got{{1, 9}, {2, 5}, {1, 0}}, frames)

	ready, err := e.DataReady()
	require.NoError(t, err)
	assert.False(t, ready, "exhausted capture stays idle")

	select {
	case <-e.Done():
	default:
		t.Fatal("Done not closed at end of capture")
	}
}

func TestReplayDoneAfterLastFrame(t *testing.T) {
	e := New(strings.NewReader("1 0102\n"))

	ready, err := e.DataReady()
	require.NoError(t, err)
	require.True(t, ready)
	select {
	case <-e.Done():
		t.Fatal("Done closed with a frame pending")
	default:
	}

	_, _, err = e.ReadFrame()
	require.NoError(t, err)
	ready, err = e.DataReady()
	require.NoError(t, err)
	assert.False(t, ready)
	_, ok := <-e.Done()
	assert.False(t, ok)

	ready, err = e.DataReady()
	require.NoError(t, err)
	assert.False(t, ready, "polling after the end does not close twice")
}

func TestReplayMalformedLine(t *testing.T) {
	e := New(strings.NewReader("1 0102\nnot a frame\n"))

	ready, err := e.DataReady()
	require.NoError(t, err)
	require.True(t, ready)
	_, _, err = e.ReadFrame()
	require.NoError(t, err)

	_, err = e.DataReady()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture line 2")
}

func TestReplayOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")
	require.NoError(t, os.WriteFile(path, []byte(capture), 0644))

	e, err := Open(path)
	require.NoError(t, err)
	ready, err := e.DataReady()
	require.NoError(t, err)
	assert.True(t, ready)
	require.NoError(t, e.PowerDown())

	_, err = Open(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
