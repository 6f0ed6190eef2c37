package queue

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	q, err := New(capacity)
	require.NoError(t, err)
	return q
}

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, c := range []int{0, 1024, 5000, 4097} {
		_, err := New(c)
		assert.ErrorIs(t, err, ErrCapacity, "capacity %d", c)
	}
	q, err := New(8192)
	require.NoError(t, err)
	assert.Equal(t, 8192, q.Capacity())
}

func TestFIFO(t *testing.T) {
	q := newQueue(t, 4096)
	for i := 0; i < 10; i++ {
		require.True(t, q.Output(bytes.Repeat([]byte{byte(i)}, i+1)))
	}

	var rec Record
	for i := 0; i < 10; i++ {
		require.True(t, q.TryRead(&rec))
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, i+1), rec.RawSample)
	}
	assert.False(t, q.TryRead(&rec))
	assert.Equal(t, 0, q.Stats().InUse)
}

func TestReserveFailsWhenFull(t *testing.T) {
	q := newQueue(t, 4096)
	payload := make([]byte, 100) // 8 header + 104 data per slot

	n := 0
	for q.Output(payload) {
		n++
	}
	assert.Equal(t, 4096/112, n)

	st := q.Stats()
	assert.Equal(t, uint64(n), st.Committed)
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, n*112, st.InUse)

	// 失败的预留不能改变占用
	_, ok := q.Reserve(100)
	assert.False(t, ok)
	assert.Equal(t, st.InUse, q.Stats().InUse)

	var rec Record
	require.True(t, q.TryRead(&rec))
	assert.True(t, q.Output(payload))
}

func TestReserveRejectsBadSize(t *testing.T) {
	q := newQueue(t, 4096)
	for _, size := range []int{0, -1, 4096} {
		_, ok := q.Reserve(size)
		assert.False(t, ok, "size %d", size)
	}
	assert.Equal(t, uint64(3), q.Stats().Failed)
}

func TestUncommittedSlotBlocksLaterRecords(t *testing.T) {
	q := newQueue(t, 4096)

	first, ok := q.Reserve(16)
	require.True(t, ok)
	require.True(t, q.Output([]byte("second")))

	var rec Record
	assert.False(t, q.TryRead(&rec))

	copy(first.Bytes(), "first")
	require.True(t, q.Commit(first, 5))

	require.True(t, q.TryRead(&rec))
	assert.Equal(t, []byte("first"), rec.RawSample)
	require.True(t, q.TryRead(&rec))
	assert.Equal(t, []byte("second"), rec.RawSample)
}

func TestCommitPartial(t *testing.T) {
	q := newQueue(t, 4096)
	r, ok := q.Reserve(64)
	require.True(t, ok)
	assert.Equal(t, 64, r.Len())
	copy(r.Bytes(), "abcdefgh")
	require.True(t, q.Commit(r, 3))

	var rec Record
	require.True(t, q.TryRead(&rec))
	assert.Equal(t, []byte("abc"), rec.RawSample)
}

func TestCommitOutOfRangeDiscards(t *testing.T) {
	q := newQueue(t, 4096)
	r, ok := q.Reserve(8)
	require.True(t, ok)
	assert.False(t, q.Commit(r, 9))

	var rec Record
	assert.False(t, q.TryRead(&rec))
	assert.Equal(t, uint64(1), q.Stats().Discarded)
	assert.Equal(t, 0, q.Stats().InUse)
}

func TestDiscardIsInvisibleAndIdempotent(t *testing.T) {
	q := newQueue(t, 4096)

	r, ok := q.Reserve(32)
	require.True(t, ok)
	copy(r.Bytes(), "should never be seen")
	q.Discard(r)
	q.Discard(r)
	assert.False(t, q.Commit(r, 4))

	st := q.Stats()
	assert.Equal(t, uint64(1), st.Discarded)
	assert.Equal(t, uint64(0), st.Committed)

	// 后续预留不受影响
	require.True(t, q.Output([]byte("next")))
	var rec Record
	require.True(t, q.TryRead(&rec))
	assert.Equal(t, []byte("next"), rec.RawSample)
	assert.False(t, q.TryRead(&rec))

	// 空间复用之后旧句柄依旧无效
	q.Discard(r)
	r2, ok := q.Reserve(32)
	require.True(t, ok)
	q.Discard(r)
	copy(r2.Bytes(), "live")
	require.True(t, q.Commit(r2, 4))
	require.True(t, q.TryRead(&rec))
	assert.Equal(t, []byte("live"), rec.RawSample)
	assert.Equal(t, uint64(1), q.Stats().Discarded)
	assert.Equal(t, 0, q.Stats().InUse)
}

func TestDiscardForeignReservation(t *testing.T) {
	a := newQueue(t, 4096)
	b := newQueue(t, 4096)
	r, ok := a.Reserve(8)
	require.True(t, ok)

	b.Discard(r)
	assert.False(t, b.Commit(r, 8))
	b.Discard(Reservation{})
	assert.True(t, a.Commit(r, 8))
}

func TestWrapUsesPadding(t *testing.T) {
	q := newQueue(t, 4096)
	var rec Record

	require.True(t, q.Output(make([]byte, 3000)))
	require.True(t, q.TryRead(&rec))

	// 3008 + 2008 越过 arena 尾部，需要 1088 字节填充
	big := bytes.Repeat([]byte{0x5a}, 2000)
	require.True(t, q.Output(big))
	assert.Equal(t, 1088+2008, q.Stats().InUse)

	require.True(t, q.TryRead(&rec))
	assert.Equal(t, big, rec.RawSample)
	assert.False(t, q.TryRead(&rec))
	assert.Equal(t, 0, q.Stats().InUse)
}

func TestWrapFailsWithoutRoomForPadding(t *testing.T) {
	q := newQueue(t, 4096)
	var rec Record

	require.True(t, q.Output(make([]byte, 3000)))
	require.True(t, q.Output(make([]byte, 100)))
	require.True(t, q.TryRead(&rec))

	// 尾部只剩 976 字节，回绕后需要 976+3112，加上未读的 112 字节超过容量
	_, ok := q.Reserve(3100)
	assert.False(t, ok)
	require.True(t, q.Output(make([]byte, 900)))
}

func TestReadBlocksUntilCommit(t *testing.T) {
	q := newQueue(t, 4096)
	r, ok := q.Reserve(4)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		copy(r.Bytes(), "ping")
		q.Commit(r, 4)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := q.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), rec.RawSample)
}

func TestReadWakesOnDiscardOfHead(t *testing.T) {
	q := newQueue(t, 4096)
	head, ok := q.Reserve(4)
	require.True(t, ok)
	require.True(t, q.Output([]byte("tail")))

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Discard(head)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := q.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("tail"), rec.RawSample)
}

func TestReadHonoursContext(t *testing.T) {
	q := newQueue(t, 4096)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenErrClosed(t *testing.T) {
	q := newQueue(t, 4096)
	require.True(t, q.Output([]byte("last")))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, ok := q.Reserve(4)
	assert.False(t, ok)

	ctx := context.Background()
	rec, err := q.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("last"), rec.RawSample)

	_, err = q.Read(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestCloseWakesBlockedReader(t *testing.T) {
	q := newQueue(t, 4096)
	errc := make(chan error, 1)
	go func() {
		_, err := q.Read(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("reader not woken by Close")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 20000
	q := newQueue(t, 4096)

	go func() {
		var seq [8]byte
		for i := 0; i < total; i++ {
			binary.LittleEndian.PutUint64(seq[:], uint64(i))
			size := 8 + i%200
			for {
				r, ok := q.Reserve(size)
				if !ok {
					runtime.Gosched()
					continue
				}
				copy(r.Bytes(), seq[:])
				if i%7 == 0 {
					q.Discard(r)
				} else {
					q.Commit(r, size)
				}
				break
			}
		}
		q.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var rec Record
	want := 0
	for {
		err := q.ReadInto(ctx, &rec)
		if errors.Is(err, ErrClosed) {
			break
		}
		require.NoError(t, err)
		if want%7 == 0 {
			want++
		}
		require.Equal(t, 8+want%200, len(rec.RawSample))
		require.Equal(t, uint64(want), binary.LittleEndian.Uint64(rec.RawSample))
		want++
	}
	if want%7 == 0 {
		want++
	}
	assert.Equal(t, total, want)
	assert.Equal(t, 0, q.Stats().InUse)
}

func BenchmarkReserveCommitRead(b *testing.B) {
	q, err := New(1 << 16)
	if err != nil {
		b.Fatal(err)
	}
	payload := make([]byte, 300)
	var rec Record
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !q.Output(payload) {
			b.Fatal("reserve failed")
		}
		if !q.TryRead(&rec) {
			b.Fatal("read failed")
		}
	}
}
