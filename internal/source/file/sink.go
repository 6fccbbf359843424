package file

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/xlat/internal/core"
)

// DefaultSnapLen is written to classic pcap headers.
const DefaultSnapLen = 65535

// Writer is a pipeline sink writing translated frames to a capture file.
// It is not safe for concurrent use.
type Writer struct {
	closer io.Closer
	bw     *bufio.Writer
	pcap   *pcapgo.Writer
	ng     *pcapgo.NgWriter
}

// Create creates or truncates path and writes a capture file header for
// frames of the given link type.
func Create(path string, format Format, link layers.LinkType) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %s: %w", path, err)
	}
	w, err := NewWriter(f, format, link)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes a capture file header to w.
func NewWriter(w io.Writer, format Format, link layers.LinkType) (*Writer, error) {
	out := &Writer{}
	switch format {
	case FormatPcapNG:
		ng, err := pcapgo.NewNgWriter(w, link)
		if err != nil {
			return nil, fmt.Errorf("write pcapng header: %w", err)
		}
		out.ng = ng
	case FormatPcap, "":
		out.bw = bufio.NewWriter(w)
		out.pcap = pcapgo.NewWriter(out.bw)
		if err := out.pcap.WriteFileHeader(DefaultSnapLen, link); err != nil {
			return nil, fmt.Errorf("write pcap header: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown capture format %q", format)
	}
	return out, nil
}

// WritePacket writes one translated frame with its capture timestamp.
func (w *Writer) WritePacket(p core.TranslatedPacket) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     p.Timestamp,
		CaptureLength: len(p.Data),
		Length:        int(max(p.OrigLen, uint32(len(p.Data)))),
	}
	if w.ng != nil {
		return w.ng.WritePacket(ci, p.Data)
	}
	return w.pcap.WritePacket(ci, p.Data)
}

// Flush writes buffered frames to the underlying writer.
func (w *Writer) Flush() error {
	if w.ng != nil {
		return w.ng.Flush()
	}
	return w.bw.Flush()
}

// Close flushes and closes the file opened by Create.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
		w.closer = nil
	}
	return err
}
