// Package pcap feeds captured packets, live or from a capture file, into the
// flow aggregator.
package pcap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"AegisNet/internal/engine/protocol"
	"AegisNet/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkTyped is a packet source that knows its link layer.
type LinkTyped interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader decodes packets from a source and parses them into PacketInfo.
type Reader struct {
	src       gopacket.PacketDataSource
	decoder   gopacket.Decoder
	closer    io.Closer
	retryable func(error) bool
	logger    *slog.Logger
}

// Stats summarizes one ReadPackets run.
type Stats struct {
	Read    int
	Parsed  int
	Skipped int
}

// NewReader wraps an open packet source, such as a live pcap handle. retryable
// reports read errors that should not end the capture (read timeouts); it may be nil.
func NewReader(src LinkTyped, closer io.Closer, retryable func(error) bool, logger *slog.Logger) *Reader {
	return &Reader{
		src:       src,
		decoder:   src.LinkType(),
		closer:    closer,
		retryable: retryable,
		logger:    logger.With("component", "pcap-reader"),
	}
}

// OpenFile opens a pcap or pcapng capture file.
func OpenFile(path string, logger *slog.Logger) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var src LinkTyped
	if r, err := pcapgo.NewReader(bufio.NewReader(f)); err == nil {
		src = r
	} else {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			f.Close()
			return nil, serr
		}
		ng, ngErr := pcapgo.NewNgReader(bufio.NewReader(f), pcapgo.DefaultNgReaderOptions)
		if ngErr != nil {
			f.Close()
			return nil, fmt.Errorf("%s is neither pcap (%v) nor pcapng (%v)", path, err, ngErr)
		}
		src = ng
	}
	return NewReader(src, f, nil, logger), nil
}

// Close releases the underlying source.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadPackets parses every packet from the source and sends it to out until
// the source is exhausted or ctx is done. Packets without a TCP/UDP 5-tuple
// are skipped. out is not closed.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketInfo) (Stats, error) {
	var st Stats
	for {
		if err := ctx.Err(); err != nil {
			return st, nil
		}

		data, ci, err := r.src.ReadPacketData()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return st, nil
			case r.retryable != nil && r.retryable(err):
				continue
			default:
				return st, fmt.Errorf("read packet: %w", err)
			}
		}
		st.Read++

		packet := gopacket.NewPacket(data, r.decoder, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		packet.Metadata().CaptureInfo = ci

		info, err := protocol.ParsePacket(packet)
		if err != nil {
			st.Skipped++
			r.logger.Debug("Skipping packet", "error", err)
			continue
		}
		st.Parsed++

		select {
		case out <- info:
		case <-ctx.Done():
			return st, nil
		}
	}
}
