package streamio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/biohic/streamio"
)

func TestNewCoroutineReadsAndReturns(t *testing.T) {
	source := streamio.NewMemorySource([]byte("hello world"))
	factory := func(acc *streamio.ByteAccumulator) streamio.Parser[string] {
		return streamio.NewCoroutine(acc, func(io *streamio.CoroutineIO[string]) (string, error) {
			first := io.ReadExact(5)
			io.ReadExact(1) // space
			second := io.ReadExact(5)
			return string(first) + "_" + string(second), nil
		})
	}

	var got string
	var gotErr error
	for v, err := range streamio.ParseSync(factory, source) {
		got, gotErr = v, err
	}
	require.NoError(t, gotErr)
	assert.Equal(t, "hello_world", got)
}

func TestNewCoroutineSeekReadExact(t *testing.T) {
	source := streamio.NewMemorySource([]byte("0123456789"))
	factory := func(acc *streamio.ByteAccumulator) streamio.Parser[string] {
		return streamio.NewCoroutine(acc, func(io *streamio.CoroutineIO[string]) (string, error) {
			b := io.SeekReadExact(5, 3)
			return string(b), nil
		})
	}

	var got string
	for v, err := range streamio.ParseSync(factory, source) {
		require.NoError(t, err)
		got = v
	}
	assert.Equal(t, "567", got)
}

func TestNewCoroutineReadCString(t *testing.T) {
	source := streamio.NewMemorySource([]byte("abc\x00def\x00"))
	factory := func(acc *streamio.ByteAccumulator) streamio.Parser[[2]string] {
		return streamio.NewCoroutine(acc, func(io *streamio.CoroutineIO[[2]string]) ([2]string, error) {
			a := io.ReadCString(2)
			b := io.ReadCString(2)
			return [2]string{a, b}, nil
		})
	}

	var got [2]string
	for v, err := range streamio.ParseSync(factory, source) {
		require.NoError(t, err)
		got = v
	}
	assert.Equal(t, [2]string{"abc", "def"}, got)
}

func TestNewEmittingCoroutineEmitsMultiple(t *testing.T) {
	source := streamio.NewMemorySource([]byte("abc"))
	factory := func(acc *streamio.ByteAccumulator) streamio.Parser[byte] {
		return streamio.NewEmittingCoroutine(acc, func(io *streamio.CoroutineIO[byte]) error {
			for i := 0; i < 3; i++ {
				b := io.ReadExact(1)
				io.Emit(b[0])
			}
			return nil
		})
	}

	var got []byte
	for v, err := range streamio.ParseSync(factory, source) {
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []byte("abc"), got)
}

func TestCoroutineBodyErrorPropagates(t *testing.T) {
	source := streamio.NewMemorySource([]byte("ab"))
	factory := func(acc *streamio.ByteAccumulator) streamio.Parser[int] {
		return streamio.NewCoroutine(acc, func(io *streamio.CoroutineIO[int]) (int, error) {
			return 0, assert.AnError
		})
	}

	var sawErr error
	for _, err := range streamio.ParseSync(factory, source) {
		sawErr = err
	}
	assert.Equal(t, assert.AnError, sawErr)
}
