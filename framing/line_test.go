package framing_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netio/fake"
	"github.com/momentics/hioload-netio/framing"
)

type emission struct {
	msg      string
	complete bool
}

func collect(out *[]emission) framing.LineHandler {
	return func(msg []byte, complete bool) {
		*out = append(*out, emission{string(msg), complete})
	}
}

func TestDefaultSearch(t *testing.T) {
	end, _ := framing.DefaultSearch([]byte("This line contains no line break"), 0)
	assert.Equal(t, -1, end)

	data := []byte("This\r line contains line\r\n breaks")
	end, next := framing.DefaultSearch(data, 0)
	assert.Equal(t, 4, end)
	assert.Equal(t, 5, next)
	end, next = framing.DefaultSearch(data, next)
	assert.Equal(t, 24, end)
	assert.Equal(t, 26, next)

	end, next = framing.DefaultSearch([]byte("a\nb"), 0)
	assert.Equal(t, 1, end)
	assert.Equal(t, 2, next)
}

func TestLineBufferChunksAndOverflow(t *testing.T) {
	var got []emission
	src := &fake.Loopback{}
	framing.New(src, 150, collect(&got))

	for _, chunk := range []string{"The first", " line\r", "The second line\r", "\nThe third line\n"} {
		require.True(t, src.FeedString(chunk))
	}
	assert.Equal(t, []emission{
		{"The first line", true},
		{"The second line", true},
		{"The third line", true},
	}, got)

	for i := 0; i < 151; i++ {
		src.FeedString("a")
	}
	require.Len(t, got, 4)
	assert.False(t, got[3].complete)
	assert.Len(t, got[3].msg, 151)
	assert.Equal(t, strings.Repeat("a", 151), got[3].msg)
}

func TestSeveralLinesInOneChunk(t *testing.T) {
	var got []emission
	lb := framing.NewLineBuffer(0, collect(&got))
	lb.Push([]byte("one\r\ntwo\nthree\rfour"))
	assert.Equal(t, []emission{{"one", true}, {"two", true}, {"three", true}}, got)
	assert.Equal(t, 4, lb.Pending())

	lb.Push([]byte("\n\n"))
	assert.Equal(t, emission{"four", true}, got[3])
	assert.Equal(t, emission{"", true}, got[4])

	lb.Push([]byte("dangling"))
	lb.Reset()
	assert.Zero(t, lb.Pending())
}

func TestCustomSearch(t *testing.T) {
	var got []emission
	nul := func(data []byte, start int) (int, int) {
		i := bytes.IndexByte(data[start:], 0)
		if i < 0 {
			return -1, -1
		}
		return start + i, start + i + 1
	}
	lb := framing.NewLineBuffer(64, collect(&got), framing.WithSearch(nul))
	lb.Push([]byte("abc\x00a\nb\x00"))
	assert.Equal(t, []emission{{"abc", true}, {"a\nb", true}}, got)
}
