// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package protoparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHTTPRequest(t *testing.T) {
	data := []byte("GET /flag HTTP/1.1\r\nHost: ctf.local\r\nUser-Agent: curl\r\n\r\n")
	meta := Parse(data)
	require.Equal(t, KindHTTPRequest, meta.Type)
	require.Equal(t, "GET", meta.Method)
	require.Equal(t, "/flag", meta.URL)
	require.Equal(t, "HTTP/1.1", meta.Version)
	require.Equal(t, []string{"ctf.local"}, meta.Headers["Host"])
}

func TestParseHTTPResponse(t *testing.T) {
	data := []byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nCTF{")
	meta := Parse(data)
	require.Equal(t, KindHTTPResponse, meta.Type)
	require.Equal(t, "200 OK", meta.Status)
	require.Equal(t, "CTF{", meta.Body)
}

func TestParseUnknownContent(t *testing.T) {
	meta := Parse([]byte("\x00\x01random binary garbage\x02"))
	require.Equal(t, KindUnknown, meta.Type)
	require.Empty(t, meta.Method)
	require.Empty(t, meta.Status)
}

func TestParseEmptyIsUnknown(t *testing.T) {
	require.Equal(t, KindUnknown, Parse(nil).Type)
}

func TestParseRequestMissingVersionIsUnknown(t *testing.T) {
	meta := Parse([]byte("GET /flag\r\n\r\n"))
	require.Equal(t, KindUnknown, meta.Type)
}

func TestParseResponseWithoutReasonPhrase(t *testing.T) {
	meta := Parse([]byte("HTTP/1.1 204\r\n\r\n"))
	require.Equal(t, KindHTTPResponse, meta.Type)
	require.Equal(t, "204", meta.Status)
}
