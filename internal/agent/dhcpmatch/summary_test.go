package dhcpmatch

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhcptap/pkg/model"
	"dhcptap/pkg/record"
)

var clientMAC = net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}

func serialize(t *testing.T, l gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, l))
	return append([]byte(nil), buf.Bytes()...)
}

func TestSummarizeDHCPv4Discover(t *testing.T) {
	payload := serialize(t, &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          0xdeadbeef,
		ClientHWAddr: clientMAC,
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeDiscover)}),
			layers.NewDHCPOption(layers.DHCPOptHostname, []byte("node01")),
			layers.NewDHCPOption(layers.DHCPOptRequestIP, []byte{10, 0, 0, 99}),
		},
	})

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := record.Record{
		IfIndex: 4,
		SrcMAC:  [6]byte(clientMAC),
		SrcPort: 68,
		Src:     record.AddrV4{},
		Payload: payload,
	}
	ev := Summarize(rec, "eth0", ts)

	assert.Equal(t, ts, ev.Timestamp)
	assert.Equal(t, "eth0", ev.Interface)
	assert.Equal(t, uint32(4), ev.IfIndex)
	assert.Equal(t, 4, ev.Family)
	assert.Equal(t, clientMAC.String(), ev.SrcMAC)
	assert.Equal(t, "0.0.0.0", ev.SrcIP)
	assert.Equal(t, 68, ev.SrcPort)
	assert.Equal(t, "discover", ev.MsgType)
	assert.Equal(t, uint32(0xdeadbeef), ev.Xid)
	assert.Equal(t, clientMAC.String(), ev.ClientHWAddr)
	assert.Equal(t, "node01", ev.Hostname)
	assert.Equal(t, "10.0.0.99", ev.RequestedIP)
	assert.Equal(t, len(payload), ev.PayloadSize)
	assert.Equal(t, payload, ev.Payload)

	// 事件持有自己的 payload 副本
	payload[0] = 0xff
	assert.NotEqual(t, payload[0], ev.Payload[0])
}

func TestSummarizeDHCPv6Solicit(t *testing.T) {
	duid := []byte{0x00, duidLL, 0x00, 0x01}
	duid = append(duid, clientMAC...)

	fqdnData := []byte{0x00, 3, 'f', 'o', 'o', 7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0}

	want := netip.MustParseAddr("2001:db8::42")
	iaaddr := make([]byte, 4+24)
	binary.BigEndian.PutUint16(iaaddr[0:2], uint16(dhcpv6OptIAAddr))
	binary.BigEndian.PutUint16(iaaddr[2:4], 24)
	a := want.As16()
	copy(iaaddr[4:20], a[:])
	iana := append(make([]byte, 12), iaaddr...)

	payload := serialize(t, &layers.DHCPv6{
		MsgType:       layers.DHCPv6MsgTypeSolicit,
		TransactionID: []byte{0x12, 0x34, 0x56},
		Options: layers.DHCPv6Options{
			layers.NewDHCPv6Option(layers.DHCPv6OptClientID, duid),
			layers.NewDHCPv6Option(dhcpv6OptClientFQDN, fqdnData),
			layers.NewDHCPv6Option(dhcpv6OptIANA, iana),
		},
	})

	src := netip.MustParseAddr("fe80::5054:ff:fe12:3456")
	rec := record.Record{
		IfIndex: 2,
		SrcMAC:  [6]byte(clientMAC),
		SrcPort: 546,
		Src:     record.AddrV6(src.As16()),
		Payload: payload,
	}
	ev := Summarize(rec, "eth1", time.Now())

	assert.Equal(t, 6, ev.Family)
	assert.Equal(t, src.String(), ev.SrcIP)
	assert.Equal(t, "solicit", ev.MsgType)
	assert.Equal(t, uint32(0x123456), ev.Xid)
	assert.Equal(t, clientMAC.String(), ev.ClientHWAddr)
	assert.Equal(t, "foo.example", ev.Hostname)
	assert.Equal(t, want.String(), ev.RequestedIP)
}

func TestSummarizeUndecodable(t *testing.T) {
	rec := record.Record{
		SrcMAC:  [6]byte(clientMAC),
		SrcPort: 68,
		Src:     record.AddrV4{10, 0, 0, 1},
		Payload: []byte{1, 2, 3},
	}
	ev := Summarize(rec, "eth0", time.Now())
	assert.Equal(t, model.MsgTypeUnknown, ev.MsgType)
	assert.Equal(t, "10.0.0.1", ev.SrcIP)
	assert.Equal(t, 3, ev.PayloadSize)
	assert.Empty(t, ev.ClientHWAddr)

	rec.Src = record.AddrV6{}
	ev = Summarize(rec, "eth0", time.Now())
	assert.Equal(t, model.MsgTypeUnknown, ev.MsgType)
}

func TestDUIDLinkLayer(t *testing.T) {
	llt := []byte{0x00, duidLLT, 0x00, 0x01, 0x1a, 0x2b, 0x3c, 0x4d}
	llt = append(llt, clientMAC...)
	assert.Equal(t, clientMAC, duidLinkLayer(llt))

	// DUID-EN 没有链路地址
	assert.Nil(t, duidLinkLayer([]byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x09, 0x01}))
	// 非以太网硬件类型
	assert.Nil(t, duidLinkLayer(append([]byte{0x00, duidLL, 0x00, 0x06}, clientMAC...)))
	assert.Nil(t, duidLinkLayer([]byte{0x00}))
}

func TestFQDNTruncated(t *testing.T) {
	assert.Equal(t, "", fqdn(nil))
	assert.Equal(t, "ab", fqdn([]byte{0, 2, 'a', 'b', 9, 'x'}))
}
