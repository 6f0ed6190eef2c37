package dhcpmatch

import (
	"encoding/binary"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"dhcptap/pkg/model"
	"dhcptap/pkg/record"
)

const (
	dhcpv6OptIANA       = layers.DHCPv6Opt(3)
	dhcpv6OptIAAddr     = layers.DHCPv6Opt(5)
	dhcpv6OptClientFQDN = layers.DHCPv6Opt(39)

	duidLLT = 1
	duidLL  = 3
)

// Summarize 把一条捕获记录转成上报事件。只提取摘要字段，不做完整校验；
// 解不开的 payload 仍然上报，msg_type 为 unknown。
func Summarize(rec record.Record, ifname string, ts time.Time) model.DHCPEvent {
	ev := model.DHCPEvent{
		Timestamp:   ts,
		Interface:   ifname,
		IfIndex:     rec.IfIndex,
		Family:      int(rec.Family()),
		SrcMAC:      rec.HardwareAddr().String(),
		SrcPort:     int(rec.SrcPort),
		MsgType:     model.MsgTypeUnknown,
		PayloadSize: len(rec.Payload),
		Payload:     append([]byte(nil), rec.Payload...),
	}
	if rec.Src != nil {
		ev.SrcIP = rec.Src.Addr().String()
	}

	switch rec.Family() {
	case record.FamilyV4:
		summarizeV4(&ev, rec.Payload)
	case record.FamilyV6:
		summarizeV6(&ev, rec.Payload)
	}
	return ev
}

type bytesDecoder interface {
	DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error
}

// decodeLayer 把 gopacket 解码时的 panic 当成解码失败。
// gopacket 对部分畸形 BOOTP 头和选项（如 HardwareLen 溢出）不做越界检查。
func decodeLayer(l bytesDecoder, payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return l.DecodeFromBytes(payload, gopacket.NilDecodeFeedback) == nil
}

func summarizeV4(ev *model.DHCPEvent, payload []byte) {
	var d layers.DHCPv4
	if !decodeLayer(&d, payload) {
		return
	}
	ev.Xid = d.Xid
	if len(d.ClientHWAddr) > 0 {
		ev.ClientHWAddr = d.ClientHWAddr.String()
	}
	for _, o := range d.Options {
		switch o.Type {
		case layers.DHCPOptMessageType:
			if len(o.Data) == 1 {
				ev.MsgType = strings.ToLower(layers.DHCPMsgType(o.Data[0]).String())
			}
		case layers.DHCPOptHostname:
			ev.Hostname = string(o.Data)
		case layers.DHCPOptRequestIP:
			if len(o.Data) == 4 {
				ev.RequestedIP = net.IP(o.Data).String()
			}
		}
	}
}

func summarizeV6(ev *model.DHCPEvent, payload []byte) {
	var d layers.DHCPv6
	if !decodeLayer(&d, payload) {
		return
	}
	ev.MsgType = strings.ToLower(d.MsgType.String())
	if len(d.TransactionID) == 3 {
		ev.Xid = uint32(d.TransactionID[0])<<16 | uint32(d.TransactionID[1])<<8 | uint32(d.TransactionID[2])
	}
	for _, o := range d.Options {
		switch o.Code {
		case layers.DHCPv6OptClientID:
			if mac := duidLinkLayer(o.Data); mac != nil {
				ev.ClientHWAddr = mac.String()
			}
		case dhcpv6OptClientFQDN:
			ev.Hostname = fqdn(o.Data)
		case dhcpv6OptIANA:
			if addr, ok := iaAddress(o.Data); ok {
				ev.RequestedIP = addr.String()
			}
		}
	}
}

// duidLinkLayer 从 DUID-LLT / DUID-LL 中取出以太网地址。
func duidLinkLayer(duid []byte) net.HardwareAddr {
	if len(duid) < 4 || binary.BigEndian.Uint16(duid[2:4]) != 1 {
		return nil
	}
	var ll []byte
	switch binary.BigEndian.Uint16(duid[0:2]) {
	case duidLLT:
		if len(duid) < 8 {
			return nil
		}
		ll = duid[8:]
	case duidLL:
		ll = duid[4:]
	}
	if len(ll) != 6 {
		return nil
	}
	return net.HardwareAddr(append([]byte(nil), ll...))
}

// fqdn 解析 Client FQDN 选项：1 字节 flags 后接 DNS wire 格式的域名。
func fqdn(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	var labels []string
	for p := data[1:]; len(p) > 0; {
		n := int(p[0])
		if n == 0 || n+1 > len(p) {
			break
		}
		labels = append(labels, string(p[1:n+1]))
		p = p[n+1:]
	}
	return strings.Join(labels, ".")
}

// iaAddress 在 IA_NA（IAID、T1、T2 之后）的子选项中找第一个 IAADDR。
func iaAddress(data []byte) (netip.Addr, bool) {
	if len(data) < 12 {
		return netip.Addr{}, false
	}
	for p := data[12:]; len(p) >= 4; {
		code := layers.DHCPv6Opt(binary.BigEndian.Uint16(p[0:2]))
		n := int(binary.BigEndian.Uint16(p[2:4]))
		if 4+n > len(p) {
			break
		}
		if code == dhcpv6OptIAAddr && n >= 16 {
			return netip.AddrFrom16([16]byte(p[4:20])), true
		}
		p = p[4+n:]
	}
	return netip.Addr{}, false
}
