package ioutil

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSomeReturnsAvailableData(t *testing.T) {
	r := strings.NewReader("hello world")
	chunk, err := ReadSome(context.Background(), r, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))
}

func TestReadSomeEOF(t *testing.T) {
	r := strings.NewReader("")
	chunk, err := ReadSome(context.Background(), r, 5)
	require.NoError(t, err)
	assert.Empty(t, chunk)
}

func TestReadSomeRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadSome(ctx, strings.NewReader("data"), 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadExactlyShortReadSignalsEOF(t *testing.T) {
	r := strings.NewReader("abc")
	buf, err := ReadExactly(context.Background(), r, 10)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))
}

func TestReadExactlyFullRead(t *testing.T) {
	r := strings.NewReader(strings.Repeat("x", 3*DefaultBufSize+7))
	buf, err := ReadExactly(context.Background(), r, 3*DefaultBufSize+7)
	require.NoError(t, err)
	assert.Len(t, buf, 3*DefaultBufSize+7)
}

func TestReadExactlyUnlimitedReadsAll(t *testing.T) {
	r := strings.NewReader("the quick brown fox")
	buf, err := ReadExactly(context.Background(), r, -1)
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", string(buf))
}

func TestWriteAllWritesEverything(t *testing.T) {
	var buf bytes.Buffer
	err := WriteAll(context.Background(), &buf, []byte("payload"), true)
	require.NoError(t, err)
	assert.Equal(t, "payload", buf.String())
}

type partialWriter struct {
	writes [][]byte
	max    int
}

func (p *partialWriter) Write(b []byte) (int, error) {
	n := len(b)
	if n > p.max {
		n = p.max
	}
	p.writes = append(p.writes, append([]byte(nil), b[:n]...))
	return n, nil
}

func TestWriteAllRetriesPartialWrites(t *testing.T) {
	w := &partialWriter{max: 2}
	err := WriteAll(context.Background(), w, []byte("abcdef"), false)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")}, w.writes)
}

func TestDiscardDrainsAndCloses(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte(strings.Repeat("z", DefaultBufSize+10)))
		pw.Close()
	}()

	err := Discard(context.Background(), pr, true)
	require.NoError(t, err)

	_, err = pr.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestCopyRespectsLimit(t *testing.T) {
	src := strings.NewReader("0123456789")
	var dst bytes.Buffer
	n, err := Copy(context.Background(), src, &dst, 4, false)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, "0123", dst.String())
}

func TestCopyUnlimitedCopiesEverything(t *testing.T) {
	src := strings.NewReader("all the bytes")
	var dst bytes.Buffer
	n, err := Copy(context.Background(), src, &dst, -1, false)
	require.NoError(t, err)
	assert.EqualValues(t, len("all the bytes"), n)
	assert.Equal(t, "all the bytes", dst.String())
}

type closeTrackingBuffer struct {
	bytes.Buffer
	closed bool
}

func (c *closeTrackingBuffer) Close() error {
	c.closed = true
	return nil
}

func TestCopyClosesEndpointsWhenRequested(t *testing.T) {
	src := &closeTrackingBuffer{}
	src.WriteString("data")
	dst := &closeTrackingBuffer{}

	_, err := Copy(context.Background(), src, dst, -1, true)
	require.NoError(t, err)
	assert.True(t, src.closed)
	assert.True(t, dst.closed)
}
