// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package protoparse is the application-protocol parser family (spec
// §4.7, §9): given the concatenated bytes of one metadata chunk, it
// sniffs an HTTP/1.x request or response and returns a tagged Metadata
// value, or Unknown when nothing recognized applies. HTTP/1.x framing is
// inherently line-oriented, so this parser is built directly on
// bufio/net/textproto rather than any third-party parser.
package protoparse

import (
	"bufio"
	"bytes"
	"net/textproto"
	"strconv"
	"strings"
)

// Kind tags which variant of Metadata is populated.
type Kind string

const (
	KindHTTPRequest  Kind = "http-request"
	KindHTTPResponse Kind = "http-response"
	KindUnknown      Kind = "unknown"
)

// Metadata is a tagged variant over the finite parser set, flattened for
// the API surface: discriminate on Type and read only the fields that
// variant populates.
type Metadata struct {
	Type    Kind                `json:"type"`
	Method  string              `json:"method,omitempty"`
	URL     string              `json:"url,omitempty"`
	Version string              `json:"version,omitempty"`
	Status  string              `json:"status,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    string              `json:"body,omitempty"`
}

// Parse sniffs data and returns the Metadata for the first variant that
// matches. Content that is not recognized as any known protocol returns
// {Type: KindUnknown} rather than an error: an unparsed chunk is a normal
// outcome, not a failure.
func Parse(data []byte) Metadata {
	if md, ok := parseRequest(data); ok {
		return md
	}
	if md, ok := parseResponse(data); ok {
		return md
	}
	return Metadata{Type: KindUnknown}
}

var httpMethods = []string{
	"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH", "TRACE", "CONNECT",
}

func parseRequest(data []byte) (Metadata, bool) {
	line, ok := firstLine(data)
	if !ok {
		return Metadata{}, false
	}
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return Metadata{}, false
	}
	method, url, version := parts[0], parts[1], parts[2]
	if !isKnownMethod(method) || !strings.HasPrefix(version, "HTTP/") {
		return Metadata{}, false
	}

	headers, _ := parseHeaders(data)
	return Metadata{
		Type:    KindHTTPRequest,
		Method:  method,
		URL:     url,
		Version: version,
		Headers: headers,
	}, true
}

func parseResponse(data []byte) (Metadata, bool) {
	line, ok := firstLine(data)
	if !ok {
		return Metadata{}, false
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return Metadata{}, false
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 599 {
		return Metadata{}, false
	}
	status := parts[1]
	if len(parts) == 3 {
		status = parts[1] + " " + parts[2]
	}

	headers, body := parseHeaders(data)
	return Metadata{
		Type:    KindHTTPResponse,
		Version: parts[0],
		Status:  status,
		Headers: headers,
		Body:    body,
	}, true
}

func isKnownMethod(m string) bool {
	for _, known := range httpMethods {
		if m == known {
			return true
		}
	}
	return false
}

func firstLine(data []byte) (string, bool) {
	idx := bytes.IndexByte(data, '\n')
	var line []byte
	if idx < 0 {
		line = data
	} else {
		line = data[:idx]
	}
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return "", false
	}
	return string(line), true
}

// parseHeaders reads every header line after the request/status line via
// textproto.Reader, stopping at the blank line ending the header block
// (or at the end of data if the chunk was cut off mid-header, which a
// scanner-fed chunk boundary can legitimately do). Whatever bytes remain
// after that blank line are returned as body, best-effort: a body split
// across a later metadata chunk is simply reported incomplete here.
func parseHeaders(data []byte) (map[string][]string, string) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, ""
	}
	rest := data[idx+1:]
	br := bufio.NewReader(bytes.NewReader(rest))
	tp := textproto.NewReader(br)
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return nil, ""
	}

	body, _ := br.Peek(br.Buffered())
	return map[string][]string(hdr), string(body)
}
