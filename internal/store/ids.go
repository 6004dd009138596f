package store

import (
	"sync"
	"time"
)

const (
	idEpochMillis = int64(1700000000000) // 2023-11-14T22:13:20Z
	nodeBits      = 10
	seqBits       = 12
	maxSeq        = (1 << seqBits) - 1
)

// IDGen mints snowflake-style int64 post ids: 41 bits of milliseconds
// since the epoch, 10 bits of node id, 12 bits of per-millisecond
// sequence. Ids are strictly increasing per node, which is what gives
// timelines their reverse-chronological order for free.
type IDGen struct {
	mu     sync.Mutex
	node   int64
	lastMs int64
	seq    int64
	now    func() time.Time
}

func NewIDGen(node int64) *IDGen {
	return &IDGen{
		node: node & ((1 << nodeBits) - 1),
		now:  time.Now,
	}
}

func (g *IDGen) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli() - idEpochMillis
	if ms < g.lastMs {
		// Clock went backwards. Keep minting off the last observed
		// millisecond rather than handing out an id that sorts early.
		ms = g.lastMs
	}

	if ms == g.lastMs {
		g.seq++
		if g.seq > maxSeq {
			// Sequence exhausted for this millisecond, spin to the next.
			for ms <= g.lastMs {
				ms = g.now().UnixMilli() - idEpochMillis
			}
			g.seq = 0
		}
	} else {
		g.seq = 0
	}

	g.lastMs = ms

	return ms<<(nodeBits+seqBits) | g.node<<seqBits | g.seq
}
