// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pcapsession is the PCAP Session Manager (spec §4.6): it
// accepts an uploaded or on-disk capture file, validates it is actually
// a PCAP/PCAPNG by magic bytes, and drives it through the TCP Assembler
// packet by packet the way the teacher's replay tooling drives a
// gopacket.PacketSource, tracking per-session packet counters along the
// way.
package pcapsession

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"github.com/caronte-ctf/caronte/internal/assembler"
	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/logging"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/store"
)

var (
	magicPcapBE   = []byte{0xa1, 0xb2, 0xc3, 0xd4}
	magicPcapLE   = []byte{0xd4, 0xc3, 0xb2, 0xa1}
	magicPcapNsBE = []byte{0xa1, 0xb2, 0x3c, 0x4d}
	magicPcapNsLE = []byte{0x4d, 0x3c, 0xb2, 0xa1}
	magicPcapngLE = []byte{0x0a, 0x0d, 0x0d, 0x0a}
)

// IsCaptureFile reports whether the first four bytes are a recognized
// PCAP or PCAPNG magic number.
func IsCaptureFile(header []byte) bool {
	if len(header) < 4 {
		return false
	}
	for _, magic := range [][]byte{magicPcapBE, magicPcapLE, magicPcapNsBE, magicPcapNsLE, magicPcapngLE} {
		if bytes.Equal(header[:4], magic) {
			return true
		}
	}
	return false
}

// Manager is the PCAP Session Manager.
type Manager struct {
	st         *store.Store
	asm        *assembler.Assembler
	storageDir string
	log        *logging.Logger
}

// New builds a Manager that stores uploaded captures under storageDir.
func New(st *store.Store, asm *assembler.Assembler, storageDir string) *Manager {
	return &Manager{st: st, asm: asm, storageDir: storageDir, log: logging.Default("pcapsession")}
}

// Upload validates, stores, and processes a capture read from r. The
// session is processed synchronously; the caller sees the final session
// document, including packet counters, when Upload returns.
func (m *Manager) Upload(ctx context.Context, name string, r io.Reader, flushAll bool) (model.PcapSession, error) {
	if err := os.MkdirAll(m.storageDir, 0o755); err != nil {
		return model.PcapSession{}, cerrors.Wrap(err, cerrors.KindInternal, "pcapsession: create storage dir")
	}

	path := filepath.Join(m.storageDir, sanitizeName(name))
	f, err := os.Create(path)
	if err != nil {
		return model.PcapSession{}, cerrors.Wrap(err, cerrors.KindInternal, "pcapsession: create file")
	}

	br := bufio.NewReader(r)
	header, _ := br.Peek(4)
	if !IsCaptureFile(header) {
		f.Close()
		os.Remove(path)
		return model.PcapSession{}, cerrors.New(cerrors.KindInvalidInput, "pcapsession: not a PCAP/PCAPNG file")
	}

	written, err := io.Copy(f, br)
	f.Close()
	if err != nil {
		os.Remove(path)
		return model.PcapSession{}, cerrors.Wrap(err, cerrors.KindInternal, "pcapsession: write file")
	}

	sess := model.PcapSession{
		Name:        name,
		StartedAt:   time.Now(),
		Size:        written,
		FlushAll:    flushAll,
		StoragePath: path,
	}
	return m.process(ctx, sess)
}

// FileSession processes an already-on-disk capture file, optionally
// deleting it once processing completes.
func (m *Manager) FileSession(ctx context.Context, path string, flushAll, deleteOriginal bool) (model.PcapSession, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.PcapSession{}, cerrors.Wrap(err, cerrors.KindInvalidInput, "pcapsession: stat file")
	}
	sess := model.PcapSession{
		Name:               filepath.Base(path),
		StartedAt:          time.Now(),
		Size:               info.Size(),
		FlushAll:           flushAll,
		StoragePath:        path,
		DeleteOriginalFile: deleteOriginal,
	}
	return m.process(ctx, sess)
}

func (m *Manager) process(ctx context.Context, sess model.PcapSession) (model.PcapSession, error) {
	id, err := m.st.InsertPcapSession(ctx, sess)
	if err != nil {
		return model.PcapSession{}, err
	}
	sess.ID = id

	handle, err := pcap.OpenOffline(sess.StoragePath)
	if err != nil {
		return sess, cerrors.Wrap(err, cerrors.KindInvalidInput, "pcapsession: open capture")
	}
	defer handle.Close()

	sess.PacketsPerService = map[uint16]uint64{}
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		if err := ctx.Err(); err != nil {
			break
		}
		if !m.handlePacket(packet) {
			sess.InvalidPackets++
			continue
		}
		sess.ProcessedPackets++
		if tcp := packet.Layer(layers.LayerTypeTCP); tcp != nil {
			sess.PacketsPerService[uint16(tcp.(*layers.TCP).DstPort)]++
		}
	}

	if sess.FlushAll {
		m.asm.FlushAll()
	} else {
		m.asm.FlushIdle(time.Now())
	}

	sess.CompletedAt = time.Now()
	if err := m.st.UpdatePcapSession(ctx, id, sess); err != nil {
		return sess, err
	}

	if sess.DeleteOriginalFile {
		if err := os.Remove(sess.StoragePath); err != nil {
			m.log.Warn("failed to remove original capture", "path", sess.StoragePath, "err", err)
		}
	}

	return sess, nil
}

func (m *Manager) handlePacket(packet gopacket.Packet) bool {
	if packet.NetworkLayer() == nil {
		return false
	}
	if packet.Layer(layers.LayerTypeTCP) == nil {
		// Not an error: plenty of real captures carry UDP/ICMP noise
		// alongside the TCP traffic caronte actually reassembles.
		return true
	}
	m.asm.ProcessPacket(packet)
	return true
}

// ListSessions returns every known PCAP session.
func (m *Manager) ListSessions(ctx context.Context) ([]model.PcapSession, error) {
	return m.st.ListPcapSessions(ctx)
}

// Download opens the stored capture file for id.
func (m *Manager) Download(ctx context.Context, id model.RowID) (*os.File, model.PcapSession, error) {
	sess, err := m.st.FindPcapSession(ctx, id)
	if err != nil {
		return nil, model.PcapSession{}, err
	}
	f, err := os.Open(sess.StoragePath)
	if err != nil {
		return nil, sess, cerrors.Wrap(err, cerrors.KindInternal, "pcapsession: open stored capture")
	}
	return f, sess, nil
}

func sanitizeName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		base = "capture.pcap"
	}
	return time.Now().Format("20060102-150405.000000000-") + base
}
