// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderHex(t *testing.T) {
	require.Equal(t, "68656c6c6f", Render(Hex, []byte("hello")))
}

func TestRenderBase64(t *testing.T) {
	require.Equal(t, "aGVsbG8=", Render(Base64, []byte("hello")))
}

func TestRenderBase32(t *testing.T) {
	require.Equal(t, "NBSWY3DP", Render(Base32, []byte("hello")))
}

func TestRenderDefaultEscapesNonPrintable(t *testing.T) {
	require.Equal(t, `hi\x00bye`, Render(Default, []byte("hi\x00bye")))
}

func TestRenderDefaultPassesThroughPrintable(t *testing.T) {
	require.Equal(t, "hello world", Render(Default, []byte("hello world")))
}

func TestRenderUnknownFallsBackToDefault(t *testing.T) {
	require.Equal(t, Render(Default, []byte("hi\x01")), Render(Name("not-a-real-format"), []byte("hi\x01")))
}

func TestRenderASCIIReplacesNonPrintable(t *testing.T) {
	require.Equal(t, "hi.bye", Render(ASCII, []byte("hi\x00bye")))
}

func TestRenderDecimal(t *testing.T) {
	require.Equal(t, "065 066", Render(Decimal, []byte("AB")))
}

func TestRenderOctal(t *testing.T) {
	require.Equal(t, "101 102", Render(Octal, []byte("AB")))
}

func TestRenderBinary(t *testing.T) {
	require.Equal(t, "01000001", Render(Binary, []byte("A")))
}

func TestRenderHexdumpLayout(t *testing.T) {
	out := Render(Hexdump, []byte("hello"))
	require.Contains(t, out, "00000000")
	require.Contains(t, out, "68 65 6c 6c 6f")
	require.Contains(t, out, "|hello|")
}

func TestRenderHexdumpMultiLine(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = 'A'
	}
	out := Render(Hexdump, data)
	require.Contains(t, out, "00000000")
	require.Contains(t, out, "00000010")
}
