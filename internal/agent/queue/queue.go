package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// 每条记录前有 8 字节头：
//
//	word0: busy(1) | discard(1) | reserved length(30)
//	word1: committed length
//
// 数据区按 8 字节对齐。写不下的尾部用一条 discard 的填充记录占位，
// 保证每条记录在 arena 中连续。
const (
	hdrSize    = 8
	busyBit    = uint32(1) << 31
	discardBit = uint32(1) << 30
	lenMask    = discardBit - 1

	MinCapacity = 4096
)

var (
	ErrClosed   = errors.New("queue: closed")
	ErrCapacity = errors.New("queue: capacity must be a power of two")
)

// Queue 是单生产者/单消费者的有界记录环。生产者侧（Reserve/Commit/Discard/Output）
// 只能由一个 goroutine 调用，消费者侧（TryRead/Read/ReadInto）同理。
// 生产者侧的所有操作都不阻塞、不加锁。
type Queue struct {
	buf  []byte
	mask uint64

	prod atomic.Uint64
	cons atomic.Uint64

	notify    chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	committed atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64
}

// Reservation 是一次预留得到的写句柄，只在 Commit 或 Discard 之前有效。
type Reservation struct {
	q   *Queue
	pos uint64
	buf []byte
}

func (r Reservation) Bytes() []byte { return r.buf }
func (r Reservation) Len() int      { return len(r.buf) }
func (r Reservation) Valid() bool   { return r.q != nil }

// Record 是消费者读出的一条记录，RawSample 在下一次 ReadInto 时会被复用。
type Record struct {
	RawSample []byte
}

type Stats struct {
	Capacity  int
	InUse     int
	Committed uint64
	Discarded uint64
	Failed    uint64
}

func New(capacity int) (*Queue, error) {
	if capacity < MinCapacity || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: got %d (min %d)", ErrCapacity, capacity, MinCapacity)
	}
	// 用 []uint64 做底层存储，保证头部字的原子访问是对齐的。
	words := make([]uint64, capacity/8)
	return &Queue{
		buf:    unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), capacity),
		mask:   uint64(capacity - 1),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

func (q *Queue) Capacity() int { return len(q.buf) }

// Reserve 预留 size 字节。空间不足、size 非法或队列已关闭时立即返回 false。
func (q *Queue) Reserve(size int) (Reservation, bool) {
	if size <= 0 || uint64(size) > uint64(lenMask) || q.closed.Load() {
		q.failed.Add(1)
		return Reservation{}, false
	}
	need := uint64(hdrSize) + align8(uint64(size))
	capacity := uint64(len(q.buf))
	if need > capacity {
		q.failed.Add(1)
		return Reservation{}, false
	}

	prod := q.prod.Load()
	cons := q.cons.Load()
	off := prod & q.mask

	var pad uint64
	if off+need > capacity {
		pad = capacity - off
	}
	if prod+pad+need-cons > capacity {
		q.failed.Add(1)
		return Reservation{}, false
	}

	if pad > 0 {
		q.storeHeader(off, discardBit|uint32(pad-hdrSize), 0)
		prod += pad
		off = 0
	}
	q.storeHeader(off, busyBit|uint32(size), 0)
	q.prod.Store(prod + need)

	return Reservation{
		q:   q,
		pos: prod,
		buf: q.buf[off+hdrSize : off+hdrSize+uint64(size)],
	}, true
}

// Commit 发布预留区的前 n 个字节。对已提交/已丢弃的句柄或越界的 n 返回 false，
// 越界时预留区会被丢弃。
func (q *Queue) Commit(r Reservation, n int) bool {
	hdr, off, ok := q.pending(r)
	if !ok {
		return false
	}
	if n < 0 || n > len(r.buf) {
		q.finish(off, (hdr&^busyBit)|discardBit)
		q.discarded.Add(1)
		return false
	}
	atomic.StoreUint32(q.word(off+4), uint32(n))
	q.finish(off, hdr&^busyBit)
	q.committed.Add(1)
	return true
}

// Discard 释放预留区且不对消费者可见。重复调用是安全的空操作。
func (q *Queue) Discard(r Reservation) {
	hdr, off, ok := q.pending(r)
	if !ok {
		return
	}
	q.finish(off, (hdr&^busyBit)|discardBit)
	q.discarded.Add(1)
}

// Output 等价于 Reserve + copy + Commit。
func (q *Queue) Output(p []byte) bool {
	r, ok := q.Reserve(len(p))
	if !ok {
		return false
	}
	copy(r.buf, p)
	return q.Commit(r, len(p))
}

// pending 判断句柄是否仍处于 busy 状态。消费者不会越过 busy 记录，
// 所以 pos >= cons 且 busy 置位时该头部一定还属于这个句柄。
func (q *Queue) pending(r Reservation) (uint32, uint64, bool) {
	if r.q != q || r.buf == nil {
		return 0, 0, false
	}
	if r.pos < q.cons.Load() {
		return 0, 0, false
	}
	off := r.pos & q.mask
	hdr := atomic.LoadUint32(q.word(off))
	if hdr&busyBit == 0 || hdr&lenMask != uint32(len(r.buf)) {
		return 0, 0, false
	}
	return hdr, off, true
}

func (q *Queue) finish(off uint64, hdr uint32) {
	atomic.StoreUint32(q.word(off), hdr)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryRead 非阻塞地读出最早一条已提交记录；没有可读记录时返回 false。
func (q *Queue) TryRead(rec *Record) bool {
	for {
		cons := q.cons.Load()
		if cons == q.prod.Load() {
			return false
		}
		off := cons & q.mask
		hdr := atomic.LoadUint32(q.word(off))
		if hdr&busyBit != 0 {
			// 队首还在写，后面的记录即使已提交也不能越过它
			return false
		}
		next := cons + hdrSize + align8(uint64(hdr&lenMask))
		if hdr&discardBit != 0 {
			q.cons.Store(next)
			continue
		}
		n := uint64(atomic.LoadUint32(q.word(off + 4)))
		start := off + hdrSize
		rec.RawSample = append(rec.RawSample[:0], q.buf[start:start+n]...)
		q.cons.Store(next)
		return true
	}
}

func (q *Queue) Read(ctx context.Context) (Record, error) {
	var rec Record
	err := q.ReadInto(ctx, &rec)
	return rec, err
}

// ReadInto 阻塞直到有记录可读、ctx 结束，或队列关闭且已读空。
func (q *Queue) ReadInto(ctx context.Context, rec *Record) error {
	for {
		if q.TryRead(rec) {
			return nil
		}
		if q.closed.Load() {
			if q.TryRead(rec) {
				return nil
			}
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Close 之后 Reserve 全部失败，读者读完剩余记录后得到 ErrClosed。
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
	return nil
}

func (q *Queue) Stats() Stats {
	prod := q.prod.Load()
	cons := q.cons.Load()
	return Stats{
		Capacity:  len(q.buf),
		InUse:     int(prod - cons),
		Committed: q.committed.Load(),
		Discarded: q.discarded.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) storeHeader(off uint64, hdr, n uint32) {
	atomic.StoreUint32(q.word(off+4), n)
	atomic.StoreUint32(q.word(off), hdr)
}

func (q *Queue) word(off uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&q.buf[off]))
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}
