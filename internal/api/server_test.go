// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/require"

	"github.com/caronte-ctf/caronte/internal/assembler"
	"github.com/caronte-ctf/caronte/internal/config"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/pcapsession"
	"github.com/caronte-ctf/caronte/internal/rules"
	"github.com/caronte-ctf/caronte/internal/store"
	"github.com/caronte-ctf/caronte/internal/streamreader"
)

type discardSink struct{}

func (discardSink) FlowComplete(ctx context.Context, flow assembler.FlowResult) {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := rules.Open(context.Background(), st)
	require.NoError(t, err)

	asm := assembler.New(1, config.Default(), discardSink{})
	sessions := pcapsession.New(st, asm, t.TempDir())
	reader := streamreader.New(st)

	srv, err := NewServer(ServerOptions{Store: st, Registry: reg, Reader: reader, Sessions: sessions})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestCreateAndListRules(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/rules", model.Rule{
		Name:    "flag",
		Color:   "#00ff00",
		Enabled: true,
		Patterns: []model.Pattern{
			{Regex: `CTF\{[A-Za-z0-9]+\}`, Direction: model.DirectionServer},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rules []model.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	require.Equal(t, "flag", rules[0].Name)
}

func TestCreateRuleRejectsBadColor(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/rules", model.Rule{
		Name:    "bad",
		Color:   "not-a-color",
		Enabled: true,
		Patterns: []model.Pattern{
			{Regex: "x"},
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetupRejectsShortFlagRegex(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/setup", map[string]any{
		"server_address": "127.0.0.1",
		"flag_regex":     "short",
		"auth_required":  false,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetupAcceptsValidConfig(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/setup", map[string]any{
		"server_address": "0.0.0.0:3333",
		"flag_regex":     `CTF\{[A-Za-z0-9]+\}`,
		"auth_required":  false,
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListConnectionsEmpty(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/connections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", w.Body.String())
}

func TestListConnectionsRejectsBadFilter(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/connections?min_bytes=not-a-number", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamUnknownConnectionIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/streams/999", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadPcapRejectsNonCaptureFile(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "not-a-pcap.txt")
	require.NoError(t, err)
	fw.Write([]byte("hello world"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/pcap/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadPcapProcessesCapture(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "capture.pcap")
	require.NoError(t, err)
	fw.Write(samplePcapBytes(t))
	require.NoError(t, mw.WriteField("flush_all", "true"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/pcap/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var sess model.PcapSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	require.Equal(t, uint64(1), sess.ProcessedPackets)

	w = doJSON(t, srv, http.MethodGet, "/api/pcap/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []model.PcapSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
}

func samplePcapBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	eth := layers.Ethernet{
		SrcMAC:       []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
		DstMAC:       []byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    []byte{10, 0, 0, 1},
		DstIP:    []byte{10, 0, 0, 2},
		Protocol: layers.IPProtocolTCP,
	}
	tcp := layers.TCP{
		SrcPort: 40000,
		DstPort: 80,
		SYN:     true,
		Seq:     1,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(&ip))

	sb := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(sb, opts, &eth, &ip, &tcp))
	require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
		CaptureLength: len(sb.Bytes()),
		Length:        len(sb.Bytes()),
	}, sb.Bytes()))

	return buf.Bytes()
}
