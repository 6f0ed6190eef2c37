package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"
)

var ErrNoInterface = errors.New("interface 不能为空")

type AFPacketHandle struct {
	tp      *afpacket.TPacket
	ifindex uint32
}

// Stats 是内核 PACKET_STATISTICS 的累计值。
type Stats struct {
	Packets uint64
	Drops   uint64
}

func NewAFPacketHandle(iface string, snaplen int) (*AFPacketHandle, error) {
	if iface == "" {
		return nil, ErrNoInterface
	}

	frameSize := nextPow2(snaplen)
	if frameSize < 2048 {
		frameSize = 2048
	}
	if frameSize > 1<<16 {
		frameSize = 1 << 16
	}

	blockSize := 1 << 20
	if blockSize%frameSize != 0 {
		blockSize = frameSize * 16
	}

	opts := []interface{}{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(64),
		afpacket.OptPollTimeout(250 * time.Millisecond),
	}
	var ifindex uint32
	// "any" 绑定所有网卡，此时 ifindex 取每个帧的 CaptureInfo
	if iface != "any" {
		idx, err := InterfaceIndex(iface)
		if err != nil {
			return nil, err
		}
		ifindex = idx
		opts = append(opts, afpacket.OptInterface(iface))
	}

	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
			return nil, fmt.Errorf("打开 AF_PACKET 失败：%w（需要 root 或 CAP_NET_RAW）", err)
		}
		return nil, fmt.Errorf("打开 AF_PACKET 失败：%w", err)
	}
	if err := tp.InitSocketStats(); err != nil {
		tp.Close()
		return nil, fmt.Errorf("初始化 socket 统计失败：%w", err)
	}

	return &AFPacketHandle{tp: tp, ifindex: ifindex}, nil
}

// InterfaceIndex 把网卡名解析为内核 ifindex。
func InterfaceIndex(name string) (uint32, error) {
	if name == "" {
		return 0, ErrNoInterface
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("查找网卡失败：%w（检查网卡名是否存在：%s）", err, name)
	}
	return uint32(ifi.Index), nil
}

func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

func (h *AFPacketHandle) Close() {
	if h.tp != nil {
		h.tp.Close()
	}
}

func (h *AFPacketHandle) SetBPF(ins []bpf.RawInstruction) error {
	if h.tp == nil {
		return os.ErrInvalid
	}
	return h.tp.SetBPF(ins)
}

func (h *AFPacketHandle) Stats() (Stats, error) {
	if h.tp == nil {
		return Stats{}, os.ErrInvalid
	}
	_, v3, err := h.tp.SocketStats()
	if err != nil {
		return Stats{}, fmt.Errorf("读取 socket 统计失败：%w", err)
	}
	return Stats{Packets: uint64(v3.Packets()), Drops: uint64(v3.Drops())}, nil
}

// ReadFrame 返回下一帧及其入向 ifindex。返回的切片指向 mmap ring，
// 只在下一次调用前有效。
func (h *AFPacketHandle) ReadFrame(ctx context.Context) ([]byte, uint32, error) {
	data, ci, err := h.ReadPacket(ctx)
	if err != nil {
		return nil, 0, err
	}
	ifindex := h.ifindex
	if ifindex == 0 {
		ifindex = uint32(ci.InterfaceIndex)
	}
	return data, ifindex, nil
}

func (h *AFPacketHandle) ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error) {
	if h.tp == nil {
		return nil, gopacket.CaptureInfo{}, os.ErrInvalid
	}

	// poll 超时后 afpacket 返回 ErrTimeout；这里按 ctx 控制退出。
	for {
		data, ci, err := h.tp.ZeroCopyReadPacketData()
		if err == nil {
			return data, ci, nil
		}
		if ctx.Err() != nil {
			return nil, gopacket.CaptureInfo{}, ctx.Err()
		}
		if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
			continue
		}
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("读取 AF_PACKET 失败：%w", err)
	}
}
