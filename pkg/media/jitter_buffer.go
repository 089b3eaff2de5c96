package media

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// JitterBufferConfig параметры буфера
type JitterBufferConfig struct {
	// BufferSize максимальное число пакетов, ожидающих выдачи
	BufferSize int
	// Delay сколько пакет после пропуска ждет недостающие
	Delay time.Duration
}

// DefaultJitterBufferConfig возвращает конфигурацию по умолчанию
func DefaultJitterBufferConfig() JitterBufferConfig {
	return JitterBufferConfig{BufferSize: 16, Delay: 3 * FrameDuration}
}

// JitterBufferStatistics счетчики буфера
type JitterBufferStatistics struct {
	Received   uint64
	Lost       uint64
	Late       uint64
	Duplicates uint64
	Overflows  uint64
	Buffered   int
}

// JitterBuffer восстанавливает порядок RTP пакетов одного SSRC.
// Пакет с ожидаемым номером выдается сразу. После пропуска следующие
// пакеты ждут недостающие не дольше Delay, затем пропуск считается
// потерей. Пакеты старше уже выданных отбрасываются.
type JitterBuffer struct {
	cfg JitterBufferConfig

	mu      sync.Mutex
	packets packetHeap
	started bool
	// highest наибольший принятый номер с учетом переполнения
	highest uint32
	// next номер, который должен быть выдан следующим
	next  uint32
	stats JitterBufferStatistics
}

type jitterPacket struct {
	packet  *rtp.Packet
	ext     uint32
	arrival time.Time
	index   int
}

// packetHeap min-heap по расширенному номеру последовательности
type packetHeap []*jitterPacket

func (h packetHeap) Len() int           { return len(h) }
func (h packetHeap) Less(i, j int) bool { return h[i].ext < h[j].ext }
func (h packetHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *packetHeap) Push(x any) {
	item := x.(*jitterPacket)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// NewJitterBuffer создает буфер. Нулевые поля cfg заменяются значениями
// по умолчанию.
func NewJitterBuffer(cfg JitterBufferConfig) *JitterBuffer {
	d := DefaultJitterBufferConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.Delay <= 0 {
		cfg.Delay = d.Delay
	}
	return &JitterBuffer{cfg: cfg}
}

// Put добавляет пакет. Буфер хранит указатель, вызывающий не должен
// переиспользовать память пакета.
func (jb *JitterBuffer) Put(pkt *rtp.Packet, now time.Time) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	jb.stats.Received++
	seq := pkt.SequenceNumber
	if !jb.started {
		jb.started = true
		jb.highest = uint32(seq)
		jb.next = uint32(seq)
	}

	ext := jb.extend(seq)
	if ext < jb.next {
		jb.stats.Late++
		return
	}
	for _, p := range jb.packets {
		if p.ext == ext {
			jb.stats.Duplicates++
			return
		}
	}
	if ext > jb.highest {
		jb.highest = ext
	}

	if len(jb.packets) >= jb.cfg.BufferSize {
		if ext < jb.packets[0].ext {
			jb.stats.Overflows++
			return
		}
		oldest := heap.Pop(&jb.packets).(*jitterPacket)
		jb.stats.Overflows++
		jb.skipTo(oldest.ext)
		jb.next = oldest.ext + 1
	}
	heap.Push(&jb.packets, &jitterPacket{packet: pkt, ext: ext, arrival: now})
}

// extend переводит 16-битный номер в расширенный относительно highest
func (jb *JitterBuffer) extend(seq uint16) uint32 {
	cur := uint16(jb.highest)
	if isSeqNewer(seq, cur) {
		return jb.highest + uint32(seqDiff(seq, cur))
	}
	back := uint32(seqDiff(cur, seq))
	if back > jb.highest {
		return 0
	}
	return jb.highest - back
}

// skipTo сдвигает next, пропущенные номера считаются потерянными
func (jb *JitterBuffer) skipTo(ext uint32) {
	if ext > jb.next {
		jb.stats.Lost += uint64(ext - jb.next)
		jb.next = ext
	}
}

// Pop возвращает пакеты, готовые к воспроизведению, в порядке номеров
func (jb *JitterBuffer) Pop(now time.Time) []*rtp.Packet {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	var out []*rtp.Packet
	for len(jb.packets) > 0 {
		top := jb.packets[0]
		if top.ext != jb.next && now.Sub(top.arrival) < jb.cfg.Delay {
			break
		}
		heap.Pop(&jb.packets)
		jb.skipTo(top.ext)
		jb.next = top.ext + 1
		out = append(out, top.packet)
	}
	return out
}

// Statistics снимок счетчиков
func (jb *JitterBuffer) Statistics() JitterBufferStatistics {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	s := jb.stats
	s.Buffered = len(jb.packets)
	return s
}

// isSeqNewer новее ли seq1 чем seq2 с учетом переполнения
func isSeqNewer(seq1, seq2 uint16) bool {
	return seq1 != seq2 && seq1-seq2 < 32768
}

func seqDiff(newer, older uint16) uint16 {
	return newer - older
}
