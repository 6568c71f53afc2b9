package pcap

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	gio "github.com/hed1ad/goguard/pkg/io"
	"github.com/hed1ad/goguard/pkg/matrix"
)

// Feature column positions.
const (
	featPacketSize = iota
	featInterArrival
	featProtocol
	featSrcPort
	featDstPort
	featTCPFlags
	featTTL
	featPayloadSize
	numFeatures
)

// FeatureExtractor extracts numerical features from network packets.
// Features that a packet does not carry (ports of an ICMP packet, TTL of
// an IPv6 packet, the inter-arrival time of the first packet) are left
// missing so they can be imputed later.
type FeatureExtractor struct {
	lastTimestamp time.Time
}

var _ gio.FeatureExtractor = (*FeatureExtractor)(nil)

// NewFeatureExtractor creates a new packet feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract implements io.FeatureExtractor for gopacket packets.
func (e *FeatureExtractor) Extract(data any) ([]float64, error) {
	packet, ok := data.(gopacket.Packet)
	if !ok {
		return nil, fmt.Errorf("%w: expected gopacket.Packet, got %T", matrix.ErrData, data)
	}
	return e.ExtractPacket(packet), nil
}

// ExtractPacket converts a packet to a feature vector laid out as
// FeatureNames describes. Packets without a network layer (ARP, LLDP)
// yield nil.
func (e *FeatureExtractor) ExtractPacket(packet gopacket.Packet) []float64 {
	if packet.NetworkLayer() == nil {
		return nil
	}

	features := make([]float64, numFeatures)
	for i := range features {
		features[i] = matrix.Missing()
	}

	features[featPacketSize] = float64(len(packet.Data()))
	features[featPayloadSize] = 0

	// Inter-arrival time
	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		if !e.lastTimestamp.IsZero() {
			features[featInterArrival] = md.Timestamp.Sub(e.lastTimestamp).Seconds()
		}
		e.lastTimestamp = md.Timestamp
	}

	// Protocol and ports
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		features[featProtocol] = 6
		features[featSrcPort] = float64(tcp.SrcPort)
		features[featDstPort] = float64(tcp.DstPort)
		features[featTCPFlags] = encodeTCPFlags(tcp)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		features[featProtocol] = 17
		features[featSrcPort] = float64(udp.SrcPort)
		features[featDstPort] = float64(udp.DstPort)
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil {
		features[featProtocol] = 1
	} else if packet.Layer(layers.LayerTypeICMPv6) != nil {
		features[featProtocol] = 58
	}

	// IP TTL / hop limit
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		features[featTTL] = float64(ipLayer.(*layers.IPv4).TTL)
	} else if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		features[featTTL] = float64(ip6Layer.(*layers.IPv6).HopLimit)
	}

	if appLayer := packet.ApplicationLayer(); appLayer != nil {
		features[featPayloadSize] = float64(len(appLayer.Payload()))
	}

	return features
}

// FeatureNames returns the names of extracted features.
func (e *FeatureExtractor) FeatureNames() []string {
	return []string{
		"packet_size",
		"inter_arrival_time",
		"protocol",
		"src_port",
		"dst_port",
		"tcp_flags",
		"ip_ttl",
		"payload_size",
	}
}

// Reset forgets the previous packet timestamp.
func (e *FeatureExtractor) Reset() {
	e.lastTimestamp = time.Time{}
}

// encodeTCPFlags packs TCP flags into a bit mask.
func encodeTCPFlags(tcp *layers.TCP) float64 {
	var flags float64
	if tcp.SYN {
		flags += 1
	}
	if tcp.ACK {
		flags += 2
	}
	if tcp.FIN {
		flags += 4
	}
	if tcp.RST {
		flags += 8
	}
	if tcp.PSH {
		flags += 16
	}
	if tcp.URG {
		flags += 32
	}
	return flags
}
