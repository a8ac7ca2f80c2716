// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package format is the Format Decoder (spec §4.8): it renders a block
// of raw stream bytes as text in one of a handful of named formats for
// display by the Stream Reader. Every format here is a direct byte→text
// codec with no multi-pattern matching or protocol awareness, so this
// package leans on the standard library's encoding/hex, encoding/base32,
// and encoding/base64 rather than any third-party codec.
package format

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Name identifies one of the recognized rendering formats.
type Name string

const (
	Default Name = "default"
	Hex     Name = "hex"
	Hexdump Name = "hexdump"
	Base32  Name = "base32"
	Base64  Name = "base64"
	ASCII   Name = "ascii"
	Binary  Name = "binary"
	Decimal Name = "decimal"
	Octal   Name = "octal"
)

// Render renders data in the given format. An unrecognized name falls
// back to Default, matching every other caller that passes a format
// string straight through from an HTTP query parameter.
func Render(name Name, data []byte) string {
	switch name {
	case Hex:
		return hex.EncodeToString(data)
	case Hexdump:
		return hexdump(data)
	case Base32:
		return base32.StdEncoding.EncodeToString(data)
	case Base64:
		return base64.StdEncoding.EncodeToString(data)
	case ASCII:
		return asciiOnly(data)
	case Binary:
		return perByte(data, 8, func(b byte) string { return strconv.FormatInt(int64(b), 2) })
	case Decimal:
		return perByte(data, 3, func(b byte) string { return strconv.FormatInt(int64(b), 10) })
	case Octal:
		return perByte(data, 3, func(b byte) string { return strconv.FormatInt(int64(b), 8) })
	default:
		return escapeNonPrintable(data)
	}
}

// escapeNonPrintable passes printable bytes, newline, carriage return and
// tab through unchanged and renders every other byte (the remaining
// control characters, high-bit bytes) as a \xNN escape.
func escapeNonPrintable(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		if isPrintable(c) {
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\n', '\r', '\t':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, `\x%02x`, c)
		}
	}
	return b.String()
}

func asciiOnly(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		if isPrintable(c) || c == '\n' || c == '\r' || c == '\t' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('.')
	}
	return b.String()
}

func isPrintable(c byte) bool { return c >= 0x20 && c < 0x7f }

// perByte renders every byte of data through render, zero-padded to
// width, space-separated.
func perByte(data []byte, width int, render func(byte) string) string {
	parts := make([]string, len(data))
	for i, c := range data {
		s := render(c)
		if len(s) < width {
			s = strings.Repeat("0", width-len(s)) + s
		}
		parts[i] = s
	}
	return strings.Join(parts, " ")
}

const hexdumpWidth = 16

// hexdump renders data in the classic 16-bytes-per-line layout: offset,
// hex columns, ASCII gutter.
func hexdump(data []byte) string {
	var b strings.Builder
	for offset := 0; offset < len(data); offset += hexdumpWidth {
		end := offset + hexdumpWidth
		if end > len(data) {
			end = len(data)
		}
		line := data[offset:end]

		fmt.Fprintf(&b, "%08x  ", offset)
		for i := 0; i < hexdumpWidth; i++ {
			if i < len(line) {
				fmt.Fprintf(&b, "%02x ", line[i])
			} else {
				b.WriteString("   ")
			}
			if i == 7 {
				b.WriteByte(' ')
			}
		}
		b.WriteString(" |")
		for _, c := range line {
			if isPrintable(c) {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	return b.String()
}
