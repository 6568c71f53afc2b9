// Package pcap turns packet captures into feature matrices for imputation
// and clustering.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	gio "github.com/hed1ad/goguard/pkg/io"
)

// ErrClosed is returned by a Reader whose handle has been released.
var ErrClosed = errors.New("pcap reader closed")

// Reader extracts one feature row per packet from a capture file or a live
// interface.
type Reader struct {
	handle     *pcap.Handle
	extractor  *FeatureExtractor
	live       bool
	maxPackets int
	stats      Stats
}

// Stats counts what a Reader has consumed so far.
type Stats struct {
	Packets int // packets taken from the capture
	Skipped int // packets without a network layer
}

var _ gio.Reader = (*Reader)(nil)

// Option configures a Reader.
type Option func(*Reader)

// WithMaxPackets stops reading after n packets. Zero means no limit.
func WithMaxPackets(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxPackets = n
		}
	}
}

// NewFileReader opens a capture file.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", filename, err)
	}
	return newReader(handle, false, opts), nil
}

// NewLiveReader captures from a network interface. Live readers only
// support Stream.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout time.Duration, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, fmt.Errorf("open interface %s: %w", iface, err)
	}
	return newReader(handle, true, opts), nil
}

func newReader(handle *pcap.Handle, live bool, opts []Option) *Reader {
	r := &Reader{
		handle:    handle,
		extractor: NewFeatureExtractor(),
		live:      live,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetFilter applies a BPF filter to the capture.
func (r *Reader) SetFilter(expr string) error {
	if r.handle == nil {
		return ErrClosed
	}
	if err := r.handle.SetBPFFilter(expr); err != nil {
		return fmt.Errorf("filter %q: %w", expr, err)
	}
	return nil
}

// FeatureNames returns the column names of the produced rows.
func (r *Reader) FeatureNames() []string {
	return r.extractor.FeatureNames()
}

// Stats reports how many packets were read and skipped. It must not be
// called while a Stream is running.
func (r *Reader) Stats() Stats {
	return r.stats
}

// next extracts features from p, counting it. ok is false once the packet
// limit is reached.
func (r *Reader) next(p gopacket.Packet) (features []float64, ok bool) {
	if r.maxPackets > 0 && r.stats.Packets >= r.maxPackets {
		return nil, false
	}
	r.stats.Packets++
	features = r.extractor.ExtractPacket(p)
	if features == nil {
		r.stats.Skipped++
	}
	return features, true
}

// Read returns the remaining packets of a capture file as feature rows.
func (r *Reader) Read() ([][]float64, error) {
	if r.handle == nil {
		return nil, ErrClosed
	}
	if r.live {
		return nil, errors.New("read needs a capture file, use Stream for live interfaces")
	}

	var data [][]float64
	src := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for p := range src.Packets() {
		features, ok := r.next(p)
		if !ok {
			break
		}
		if features != nil {
			data = append(data, features)
		}
	}
	return data, nil
}

// Stream sends feature rows until the capture ends, the packet limit is
// reached or ctx is done.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	if r.handle == nil {
		return nil, ErrClosed
	}

	out := make(chan []float64, 1000)
	src := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-src.Packets():
				if !ok {
					return
				}
				features, more := r.next(p)
				if !more {
					return
				}
				if features == nil {
					continue
				}
				select {
				case out <- features:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the capture handle.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
		r.handle = nil
	}
	return nil
}
