// Package xdp 在网卡驱动层挂一个 XDP 程序：内核里先做一遍以太网/IP/UDP/端口/长度
// 检查，命中的帧连同 {ifindex, frame_len} 一起通过 perf event 复制到用户态，
// 由分类器写入捕获队列。程序只复制不拦截，所有路径都返回 XDP_PASS：
// 用户态队列满或分类器判 Continue 时，原帧仍然走正常协议栈。
package xdp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"

	"dhcptap/pkg/record"
)

const (
	xdpPass = 2

	metaSize    = 8
	pollTimeout = 250 * time.Millisecond
)

var ErrClosed = errors.New("xdp: reader closed")

type Options struct {
	Interface string
	// Generic 使用 skb 模式，适用于不支持原生 XDP 的驱动（veth、虚拟网卡）。
	Generic bool
	// PerCPUBuffer 是每个 CPU 的 perf ring 大小，0 表示 64 页。
	PerCPUBuffer int
}

type Reader struct {
	m    *ebpf.Map
	prog *ebpf.Program
	lnk  link.Link
	rd   *perf.Reader
	rec  perf.Record

	opts Options
	lost atomic.Uint64
}

// Load 创建 perf map、加载 XDP 程序并挂到 opts.Interface 上。需要 root。
func Load(opts Options) (*Reader, error) {
	if opts.Interface == "" {
		return nil, fmt.Errorf("interface 不能为空")
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("设置 memlock 失败：%w", err)
	}
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:    "dhcp_events",
		Type:    ebpf.PerfEventArray,
		KeySize: 4,
		// MaxEntries 为 0 时按可用 CPU 数创建
		ValueSize: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 perf map 失败：%w", err)
	}
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "dhcp_xdp",
		Type:         ebpf.XDP,
		Instructions: buildProgram(m.FD()),
		License:      "GPL",
	})
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("加载 XDP 程序失败：%w", err)
	}

	r := &Reader{m: m, prog: prog, opts: opts}
	bufSize := opts.PerCPUBuffer
	if bufSize <= 0 {
		bufSize = 64 * os.Getpagesize()
	}
	if r.rd, err = perf.NewReader(m, bufSize); err != nil {
		r.Close()
		return nil, fmt.Errorf("创建 perf reader 失败：%w", err)
	}
	if err := r.attach(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) attach() error {
	ifi, err := net.InterfaceByName(r.opts.Interface)
	if err != nil {
		return fmt.Errorf("查找网卡失败：%w", err)
	}
	flags := link.XDPDriverMode
	if r.opts.Generic {
		flags = link.XDPGenericMode
	}
	l, err := link.AttachXDP(link.XDPOptions{
		Program:   r.prog,
		Interface: ifi.Index,
		Flags:     flags,
	})
	if err != nil {
		return fmt.Errorf("挂载 XDP 失败：%w", err)
	}
	r.lnk = l
	return nil
}

// ReadFrame 阻塞直到收到一帧。返回的切片在下一次调用前有效。
func (r *Reader) ReadFrame(ctx context.Context) ([]byte, uint32, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		r.rd.SetDeadline(time.Now().Add(pollTimeout))
		if err := r.rd.ReadInto(&r.rec); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, perf.ErrClosed) {
				return nil, 0, ErrClosed
			}
			return nil, 0, fmt.Errorf("读取 perf 事件失败：%w", err)
		}
		if r.rec.LostSamples > 0 {
			r.lost.Add(r.rec.LostSamples)
			continue
		}
		frame, ifindex, ok := parseSample(r.rec.RawSample)
		if !ok {
			continue
		}
		return frame, ifindex, nil
	}
}

// Lost 返回 perf ring 溢出丢掉的样本数。
func (r *Reader) Lost() uint64 {
	return r.lost.Load()
}

func (r *Reader) Close() error {
	var firstErr error
	if r.lnk != nil {
		if err := r.lnk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.rd != nil {
		if err := r.rd.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.prog != nil {
		if err := r.prog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.m != nil {
		if err := r.m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// parseSample 拆出 {ifindex, frame_len} 和帧本体，perf 样本尾部可能有对齐填充。
func parseSample(raw []byte) ([]byte, uint32, bool) {
	if len(raw) < metaSize {
		return nil, 0, false
	}
	ifindex := binary.NativeEndian.Uint32(raw[0:4])
	flen := binary.NativeEndian.Uint32(raw[4:8])
	if flen == 0 || uint64(flen) > uint64(len(raw)-metaSize) {
		return nil, 0, false
	}
	return raw[metaSize : metaSize+int(flen)], ifindex, true
}

func buildProgram(mapFD int) asm.Instructions {
	const (
		ctxData          = 0
		ctxDataEnd       = 4
		ctxIngressIfidx  = 12
		ethHdr           = 14
		etherTypeIPv4LE  = 0x0008 // 0x0800 按小端读出
		etherTypeIPv6LE  = 0xdd86 // 0x86dd 按小端读出
		udpProto         = 17
		ipv4FragMaskLE   = 0xff3f // MF + 片偏移
		dhcpv4PortLE     = 0x4300 // 67
		dhcpv6PortLE     = 0x2302 // 547
		metaIfindex      = -8
		metaFrameLen     = -4
		bpfFCurrentCPU   = 0xffffffff
		ipv6UDPOffset    = ethHdr + 40
		ipv4MinHdrLen    = 20
		ipv4ProtoOffset  = ethHdr + 9
		ipv4FragOffset   = ethHdr + 6
		ipv6NextHdrOff   = ethHdr + 6
		udpHdrLen        = 8
		udpDstPortOffset = 2
	)
	return asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadMem(asm.R7, asm.R6, ctxData, asm.Word),
		asm.LoadMem(asm.R8, asm.R6, ctxDataEnd, asm.Word),

		// 以太网头 + 最短 IPv4 头
		asm.Mov.Reg(asm.R2, asm.R7),
		asm.Add.Imm(asm.R2, ethHdr+ipv4MinHdrLen),
		asm.JGT.Reg(asm.R2, asm.R8, "pass"),
		asm.LoadMem(asm.R3, asm.R7, 12, asm.Half),
		asm.JEq.Imm(asm.R3, etherTypeIPv4LE, "ipv4"),
		asm.JNE.Imm(asm.R3, etherTypeIPv6LE, "pass"),

		// IPv6：固定 40 字节头 + UDP 头
		asm.Mov.Reg(asm.R2, asm.R7),
		asm.Add.Imm(asm.R2, ipv6UDPOffset+udpHdrLen),
		asm.JGT.Reg(asm.R2, asm.R8, "pass"),
		asm.LoadMem(asm.R3, asm.R7, ethHdr, asm.Byte),
		asm.RSh.Imm(asm.R3, 4),
		asm.JNE.Imm(asm.R3, 6, "pass"),
		asm.LoadMem(asm.R3, asm.R7, ipv6NextHdrOff, asm.Byte),
		asm.JNE.Imm(asm.R3, udpProto, "pass"),
		asm.Mov.Reg(asm.R4, asm.R7),
		asm.Add.Imm(asm.R4, ipv6UDPOffset),
		asm.Mov.Imm(asm.R5, dhcpv6PortLE),
		asm.Ja.Label("udp"),

		// IPv4：版本 4、IHL >= 5、UDP、非分片
		asm.LoadMem(asm.R3, asm.R7, ethHdr, asm.Byte).WithSymbol("ipv4"),
		asm.Mov.Reg(asm.R2, asm.R3),
		asm.RSh.Imm(asm.R2, 4),
		asm.JNE.Imm(asm.R2, 4, "pass"),
		asm.And.Imm(asm.R3, 0x0f),
		asm.LSh.Imm(asm.R3, 2),
		asm.JLT.Imm(asm.R3, ipv4MinHdrLen, "pass"),
		asm.Mov.Reg(asm.R9, asm.R3),
		asm.LoadMem(asm.R3, asm.R7, ipv4ProtoOffset, asm.Byte),
		asm.JNE.Imm(asm.R3, udpProto, "pass"),
		asm.LoadMem(asm.R3, asm.R7, ipv4FragOffset, asm.Half),
		asm.And.Imm(asm.R3, ipv4FragMaskLE),
		asm.JNE.Imm(asm.R3, 0, "pass"),
		asm.Mov.Reg(asm.R4, asm.R7),
		asm.Add.Imm(asm.R4, ethHdr),
		asm.Add.Reg(asm.R4, asm.R9),
		asm.Mov.Reg(asm.R2, asm.R4),
		asm.Add.Imm(asm.R2, udpHdrLen),
		asm.JGT.Reg(asm.R2, asm.R8, "pass"),
		asm.Mov.Imm(asm.R5, dhcpv4PortLE),

		// r4 = UDP 头，r5 = 期望的目的端口
		asm.LoadMem(asm.R3, asm.R4, udpDstPortOffset, asm.Half).WithSymbol("udp"),
		asm.JNE.Reg(asm.R3, asm.R5, "pass"),
		asm.Add.Imm(asm.R4, udpHdrLen),
		asm.JGE.Reg(asm.R4, asm.R8, "pass"),
		asm.Mov.Reg(asm.R2, asm.R8),
		asm.Sub.Reg(asm.R2, asm.R4),
		asm.JGT.Imm(asm.R2, record.MaxPayload, "pass"),

		// meta = {ingress_ifindex, frame_len}，帧本体由 flags 高 32 位带出
		asm.Mov.Reg(asm.R9, asm.R8),
		asm.Sub.Reg(asm.R9, asm.R7),
		asm.StoreMem(asm.RFP, metaFrameLen, asm.R9, asm.Word),
		asm.LoadMem(asm.R3, asm.R6, ctxIngressIfidx, asm.Word),
		asm.StoreMem(asm.RFP, metaIfindex, asm.R3, asm.Word),
		asm.LSh.Imm(asm.R9, 32),
		asm.LoadImm(asm.R3, bpfFCurrentCPU, asm.DWord),
		asm.Or.Reg(asm.R3, asm.R9),
		asm.Mov.Reg(asm.R1, asm.R6),
		asm.LoadMapPtr(asm.R2, mapFD),
		asm.Mov.Reg(asm.R4, asm.RFP),
		asm.Add.Imm(asm.R4, metaIfindex),
		asm.Mov.Imm(asm.R5, metaSize),
		asm.FnPerfEventOutput.Call(),

		// 输出失败也一样放行
		asm.Mov.Imm(asm.R0, xdpPass).WithSymbol("pass"),
		asm.Return(),
	}
}
