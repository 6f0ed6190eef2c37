package filter

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// DHCPServerBPF 返回挂在 AF_PACKET socket 上的 classic BPF 预过滤器，
// 只把发往 DHCP 服务端端口的帧送到用户态，分类器会再完整校验一遍。
func DHCPServerBPF() ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(dhcpServerProgram())
	if err != nil {
		return nil, fmt.Errorf("组装 BPF 失败：%w", err)
	}
	return raw, nil
}

func dhcpServerProgram() []bpf.Instruction {
	// 假设链路层为 Ethernet：
	// - IPv4：protocol=UDP，非分片，dst port=67
	// - IPv6：固定头 next header=UDP，dst port=547
	//
	// IPv4 头部长度不固定（options），用 LoadMemShift 取 X = 4*(ip[0]&0xf)，
	// 再读 UDP dst port=[14+X+2]。
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                         // 0: EtherType
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 7}, // 1: IPv4? 否则看 IPv6

		bpf.LoadAbsolute{Off: 23, Size: 1},                          // 2: IPv4 protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 10},     // 3: UDP? 否则 drop
		bpf.LoadAbsolute{Off: 20, Size: 2},                          // 4: flags + fragment offset
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x3fff, SkipTrue: 8}, // 5: 分片 -> drop
		bpf.LoadMemShift{Off: 14},                                   // 6: X = 4*(ip[0]&0xf)
		bpf.LoadIndirect{Off: 16, Size: 2},                          // 7: udp dst port
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 67, SkipTrue: 6, SkipFalse: 5}, // 8

		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86dd, SkipFalse: 4}, // 9: IPv6? 否则 drop
		bpf.LoadAbsolute{Off: 20, Size: 1},                         // 10: next header
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 2},     // 11: UDP? 否则 drop
		bpf.LoadAbsolute{Off: 56, Size: 2},                         // 12: udp dst port
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 547, SkipTrue: 1},     // 13

		bpf.RetConstant{Val: 0},       // 14: drop
		bpf.RetConstant{Val: 0x40000}, // 15: accept (snaplen 由 AF_PACKET 控制)
	}
}
