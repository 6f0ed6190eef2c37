package record

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
)

// 记录布局是分类器与消费者之间的线格式，消费者按固定偏移解码：
//
//	off  size  field
//	0    4     interface index（小端）
//	4    6     source MAC
//	10   2     source port（小端，主机序）
//	12   4     source IPv4（网络序，IPv6 路径为 0）
//	16   16    source IPv6（网络序，IPv4 路径为 0）
//	32   2     payload length（小端）
//	34   1     family（4 或 6）
//	35   1     reserved
//	36   n     payload
const (
	offIfIndex = 0
	offSrcMAC  = 4
	offSrcPort = 10
	offSrcIPv4 = 12
	offSrcIPv6 = 16
	offPayLen  = 32
	offFamily  = 34
	offReserve = 35

	HeaderSize = 36
	MaxPayload = 1984
	MaxSize    = HeaderSize + MaxPayload

	FamilyV4 uint8 = 4
	FamilyV6 uint8 = 6
)

var (
	ErrShortRecord   = errors.New("record: buffer too short")
	ErrPayloadLength = errors.New("record: invalid payload length")
	ErrFamily        = errors.New("record: invalid address family")
	ErrAddressMix    = errors.New("record: both IPv4 and IPv6 source populated")
)

// Source 是源地址的标签变体，只能是 AddrV4 或 AddrV6。
type Source interface {
	Family() uint8
	Addr() netip.Addr
	isSource()
}

type AddrV4 [4]byte

func (AddrV4) Family() uint8      { return FamilyV4 }
func (a AddrV4) Addr() netip.Addr { return netip.AddrFrom4(a) }
func (a AddrV4) String() string   { return a.Addr().String() }
func (AddrV4) isSource()          {}

type AddrV6 [16]byte

func (AddrV6) Family() uint8      { return FamilyV6 }
func (a AddrV6) Addr() netip.Addr { return netip.AddrFrom16(a) }
func (a AddrV6) String() string   { return a.Addr().String() }
func (AddrV6) isSource()          {}

type Record struct {
	IfIndex uint32
	SrcMAC  [6]byte
	SrcPort uint16
	Src     Source
	// Decode 返回的 Payload 直接引用输入缓冲区，需要长期持有时调用 Clone。
	Payload []byte
}

func (r Record) Size() int {
	return HeaderSize + len(r.Payload)
}

func (r Record) Family() uint8 {
	if r.Src == nil {
		return 0
	}
	return r.Src.Family()
}

func (r Record) HardwareAddr() net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	copy(mac, r.SrcMAC[:])
	return mac
}

func (r Record) Clone() Record {
	out := r
	out.Payload = append([]byte(nil), r.Payload...)
	return out
}

// Encode 把记录写入 dst，返回写入的字节数。
func (r Record) Encode(dst []byte) (int, error) {
	if len(r.Payload) > MaxPayload {
		return 0, ErrPayloadLength
	}
	if len(dst) < r.Size() {
		return 0, ErrShortRecord
	}
	switch src := r.Src.(type) {
	case AddrV4:
		PutHeaderV4(dst, r.IfIndex, r.SrcMAC[:], r.SrcPort, src[:])
	case AddrV6:
		PutHeaderV6(dst, r.IfIndex, r.SrcMAC[:], r.SrcPort, src[:])
	default:
		return 0, ErrFamily
	}
	n := copy(dst[HeaderSize:], r.Payload)
	SetPayloadLen(dst, n)
	return HeaderSize + n, nil
}

// PutHeaderV4 / PutHeaderV6 在原地写入除 payload length 以外的头部字段，
// 调用方必须保证 len(dst) >= HeaderSize、len(mac) == 6、addr 长度正确。
// 这两个函数不分配内存，供分类器在快路径上使用。
func PutHeaderV4(dst []byte, ifindex uint32, mac []byte, port uint16, addr []byte) {
	putCommon(dst, ifindex, mac, port, FamilyV4)
	copy(dst[offSrcIPv4:offSrcIPv4+4], addr)
	clear(dst[offSrcIPv6 : offSrcIPv6+16])
}

func PutHeaderV6(dst []byte, ifindex uint32, mac []byte, port uint16, addr []byte) {
	putCommon(dst, ifindex, mac, port, FamilyV6)
	clear(dst[offSrcIPv4 : offSrcIPv4+4])
	copy(dst[offSrcIPv6:offSrcIPv6+16], addr)
}

func putCommon(dst []byte, ifindex uint32, mac []byte, port uint16, family uint8) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[offIfIndex:], ifindex)
	copy(dst[offSrcMAC:offSrcMAC+6], mac)
	binary.LittleEndian.PutUint16(dst[offSrcPort:], port)
	binary.LittleEndian.PutUint16(dst[offPayLen:], 0)
	dst[offFamily] = family
	dst[offReserve] = 0
}

func SetPayloadLen(dst []byte, n int) {
	binary.LittleEndian.PutUint16(dst[offPayLen:], uint16(n))
}

// PayloadArea 返回记录中 payload 的可写区域。
func PayloadArea(dst []byte) []byte {
	return dst[HeaderSize:]
}

// Decode 按固定偏移解码一条记录；src 在 HeaderSize+payload length 之后
// 允许有多余字节（内核 ring 中的记录按 MaxSize 预留）。
func Decode(src []byte) (Record, error) {
	if len(src) < HeaderSize {
		return Record{}, ErrShortRecord
	}
	plen := int(binary.LittleEndian.Uint16(src[offPayLen:]))
	if plen > MaxPayload || HeaderSize+plen > len(src) {
		return Record{}, ErrPayloadLength
	}

	r := Record{
		IfIndex: binary.LittleEndian.Uint32(src[offIfIndex:]),
		SrcPort: binary.LittleEndian.Uint16(src[offSrcPort:]),
		Payload: src[HeaderSize : HeaderSize+plen],
	}
	copy(r.SrcMAC[:], src[offSrcMAC:offSrcMAC+6])

	v4 := src[offSrcIPv4 : offSrcIPv4+4]
	v6 := src[offSrcIPv6 : offSrcIPv6+16]
	switch src[offFamily] {
	case FamilyV4:
		if !allZero(v6) {
			return Record{}, ErrAddressMix
		}
		r.Src = AddrV4(v4)
	case FamilyV6:
		if !allZero(v4) {
			return Record{}, ErrAddressMix
		}
		r.Src = AddrV6(v6)
	default:
		return Record{}, ErrFamily
	}
	return r, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
