package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
)

func init() {
	register(TypeSpeedwire, openSpeedwire)
}

const (
	speedwireGroup   = "239.12.255.254"
	speedwirePort    = 9522
	speedwireMaxRead = 20
)

// obisValue is one (channel, type) -> raw value entry parsed from an SMA
// Speedwire/OBIS datagram body.
type obisValue struct {
	channel int
	typ     int
	value   []byte
}

type speedwireReader struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	frames map[string][]obisValue // serial -> parsed frame
}

func openSpeedwire(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	group := dev.Address.Group
	if group == "" {
		group = speedwireGroup
	}

	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: portOrDefault(dev.Address.Port, speedwirePort)}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: addr.Port})
	if err != nil {
		return nil, fmt.Errorf("speedwire: listen: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	ifaces, _ := net.Interfaces()
	joined := false
	for _, iface := range ifaces {
		if err := pc.JoinGroup(&iface, addr); err == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, fmt.Errorf("speedwire: could not join multicast group %s on any interface", group)
	}

	r := &speedwireReader{conn: conn, pc: pc, frames: make(map[string][]obisValue)}
	r.collect(dev)
	return r, nil
}

// collect reads up to speedwireMaxRead datagrams, parsing each into a
// keyed-by-serial frame. The first datagram for a serial wins; later
// datagrams for the same serial in this cycle are ignored.
func (r *speedwireReader) collect(dev model.DeviceConfig) {
	deadline := time.Now().Add(3 * time.Second)
	r.conn.SetReadDeadline(deadline)

	buf := make([]byte, 1500)
	for i := 0; i < speedwireMaxRead; i++ {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		serial, values, err := parseSpeedwireFrame(buf[:n])
		if err != nil {
			elog.Debugf("speedwire: could not parse datagram: %v", err)
			continue
		}
		if _, ok := r.frames[serial]; !ok {
			r.frames[serial] = values
		}
	}
}

func (r *speedwireReader) Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error) {
	frame, ok := r.frames[spec.Serial]
	if !ok {
		return nil, nil
	}
	for _, v := range frame {
		if v.channel == spec.Channel && v.typ == spec.SwType {
			return v.value, nil
		}
	}
	return nil, nil
}

func (r *speedwireReader) Close() error {
	return r.conn.Close()
}

// ScanSerials returns every distinct device serial seen on the multicast
// group within the read budget, for the (out-of-core) environment scanner.
func (r *speedwireReader) ScanSerials() []string {
	out := make([]string, 0, len(r.frames))
	for s := range r.frames {
		out = append(out, s)
	}
	return out
}

// parseSpeedwireFrame parses the SMA Speedwire/OBIS body: a header
// carrying a serial number, followed by a sequence of (channel, type,
// value-bytes) triples. type 4 = actual (4B), 8 = counter (8B), 0 =
// version (4B, only on channel 36864).
func parseSpeedwireFrame(raw []byte) (string, []obisValue, error) {
	const headerLen = 16
	if len(raw) < headerLen {
		return "", nil, fmt.Errorf("speedwire: short datagram (%d bytes)", len(raw))
	}

	serialBytes := raw[8:12]
	serial := fmt.Sprintf("%d", binary.BigEndian.Uint32(serialBytes))

	body := raw[headerLen:]
	var values []obisValue
	pos := 0
	for pos+4 <= len(body) {
		channel := int(binary.BigEndian.Uint16(body[pos : pos+2]))
		typ := int(body[pos+3])

		var n int
		switch {
		case typ == 4:
			n = 4
		case typ == 8:
			n = 8
		case typ == 0 && channel == 36864:
			n = 4
		default:
			// Unknown triple shape: stop parsing rather than guess a
			// length and desync the remainder of the frame.
			return serial, values, nil
		}

		valStart := pos + 4
		if valStart+n > len(body) {
			break
		}
		values = append(values, obisValue{channel: channel, typ: typ, value: body[valStart : valStart+n]})
		pos = valStart + n
	}

	return serial, values, nil
}
