package pipeline

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/decoder"
	"firestige.xyz/xlat/internal/core/protocols"
	"firestige.xyz/xlat/internal/translator"
)

// worker translates one frame at a time. It is not safe for concurrent use.
type worker struct {
	xl       *translator.Translator
	views    *protocols.Pool
	headroom int
	hdr      []byte // link header of the current frame
}

func (w *worker) process(link layers.LinkType, raw core.RawPacket) core.TranslatedPacket {
	res := core.TranslatedPacket{Timestamp: raw.Timestamp, Seq: raw.Seq}

	frame, err := decoder.Decode(link, raw.Data)
	if err != nil {
		res.Err = err
		return res
	}
	// The header is saved first: translation may grow the packet into the
	// bytes in front of the IP header.
	w.hdr = append(w.hdr[:0], frame.Header(raw.Data)...)

	buf := make([]byte, w.headroom+len(raw.Data))
	copy(buf[w.headroom:], raw.Data)

	ip := w.views.Get()
	defer w.views.Put(ip)
	if err := ip.Reset(buf, w.headroom+frame.L3Off); err != nil {
		res.Err = err
		return res
	}
	res.Direction = core.DirectionV4ToV6
	if ip.Version() == protocols.IPv6 {
		res.Direction = core.DirectionV6ToV4
	}

	if err := w.xl.Translate(ip); err != nil {
		res.Err = err
		return res
	}

	res.Data = frame.Wrap(ip.L4Bytes(), ip.Start(), w.hdr, ip.Version())
	res.OrigLen = uint32(len(res.Data))
	if raw.OrigLen > raw.CaptureLen {
		res.OrigLen += raw.OrigLen - raw.CaptureLen
	}
	return res
}
