// Package classifier 对每个入向帧做出一次性判决：DHCP 服务端端口的报文写入
// 捕获队列并丢弃，其余一律放行。整个路径不分配内存、不加锁、不打日志。
package classifier

import (
	"encoding/binary"
	"errors"

	"dhcptap/internal/agent/queue"
	"dhcptap/pkg/record"
)

const (
	EtherTypeIPv4 = 0x0800
	EtherTypeIPv6 = 0x86DD

	ProtocolUDP = 17

	DHCPv4ServerPort = 67
	DHCPv6ServerPort = 547

	ethHeaderLen  = 14
	ipv4MinHdrLen = 20
	ipv6HdrLen    = 40
	udpHeaderLen  = 8

	ipv4FragMask = 0x3fff // MF 位 + 片偏移
)

type Verdict uint8

const (
	Continue Verdict = iota
	CaptureAndDrop
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "continue"
	case CaptureAndDrop:
		return "capture_and_drop"
	default:
		return "unknown"
	}
}

// Reserver 是捕获队列的生产者侧。
type Reserver interface {
	Reserve(size int) (queue.Reservation, bool)
	Commit(r queue.Reservation, n int) bool
	Discard(r queue.Reservation)
}

var errPayloadTooLarge = errors.New("payload exceeds record capacity")

// Classify 解析 frame，命中 DHCPv4(67)/DHCPv6(547) 时提交一条记录并返回
// CaptureAndDrop。任何越界、协议不符、队列满或 payload 超长都返回 Continue。
func Classify(frame []byte, ifindex uint32, q Reserver) Verdict {
	c := cursor{buf: frame}
	eth, ok := c.take(ethHeaderLen)
	if !ok {
		return Continue
	}
	switch binary.BigEndian.Uint16(eth[12:14]) {
	case EtherTypeIPv4:
		return classifyIPv4(&c, eth[6:12], ifindex, q)
	case EtherTypeIPv6:
		return classifyIPv6(&c, eth[6:12], ifindex, q)
	}
	return Continue
}

func classifyIPv4(c *cursor, mac []byte, ifindex uint32, q Reserver) Verdict {
	ip, ok := c.take(ipv4MinHdrLen)
	if !ok || ip[0]>>4 != 4 {
		return Continue
	}
	ihl := int(ip[0]&0x0f) * 4
	if ihl < ipv4MinHdrLen || !c.skip(ihl-ipv4MinHdrLen) {
		return Continue
	}
	if ip[9] != ProtocolUDP {
		return Continue
	}
	// 分片不重组，非首片也没有 UDP 头
	if binary.BigEndian.Uint16(ip[6:8])&ipv4FragMask != 0 {
		return Continue
	}
	port, payload, ok := udpToPort(c, DHCPv4ServerPort)
	if !ok {
		return Continue
	}
	return capture(q, record.FamilyV4, ifindex, mac, port, ip[12:16], payload)
}

func classifyIPv6(c *cursor, mac []byte, ifindex uint32, q Reserver) Verdict {
	ip, ok := c.take(ipv6HdrLen)
	if !ok || ip[0]>>4 != 6 {
		return Continue
	}
	// 只看固定头的 next header，不遍历扩展头
	if ip[6] != ProtocolUDP {
		return Continue
	}
	port, payload, ok := udpToPort(c, DHCPv6ServerPort)
	if !ok {
		return Continue
	}
	return capture(q, record.FamilyV6, ifindex, mac, port, ip[8:24], payload)
}

// udpToPort 解析 UDP 头，目的端口必须是 want。返回源端口和 payload。
// UDP length 与帧一致时以它为 payload 终点，否则取到帧尾（兼容以太网填充）。
func udpToPort(c *cursor, want uint16) (uint16, []byte, bool) {
	src, ok := c.u16()
	if !ok {
		return 0, nil, false
	}
	dst, ok := c.u16()
	if !ok || dst != want {
		return 0, nil, false
	}
	ulen, ok := c.u16()
	if !ok || !c.skip(2) {
		return 0, nil, false
	}
	if c.remaining() == 0 {
		return 0, nil, false
	}
	payload := c.rest()
	if n := int(ulen) - udpHeaderLen; n >= 0 && n <= len(payload) {
		payload = payload[:n]
	}
	return src, payload, true
}

func capture(q Reserver, family uint8, ifindex uint32, mac []byte, port uint16, addr, payload []byte) Verdict {
	r, ok := q.Reserve(record.MaxSize)
	if !ok {
		return Continue
	}
	dst := r.Bytes()
	if family == record.FamilyV4 {
		record.PutHeaderV4(dst, ifindex, mac, port, addr)
	} else {
		record.PutHeaderV6(dst, ifindex, mac, port, addr)
	}
	n, err := copyPayload(record.PayloadArea(dst), payload)
	if err != nil {
		q.Discard(r)
		return Continue
	}
	record.SetPayloadLen(dst, n)
	if !q.Commit(r, record.HeaderSize+n) {
		return Continue
	}
	return CaptureAndDrop
}

// copyPayload 不截断：超过 MaxPayload 直接报错。
func copyPayload(dst, payload []byte) (int, error) {
	if len(payload) > record.MaxPayload || len(payload) > len(dst) {
		return 0, errPayloadTooLarge
	}
	return copy(dst, payload), nil
}
