// Package snowflake issues time-ordered int64 ids. Message ids double as
// pagination cursors, so ids from one node must be strictly increasing.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	NodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	Epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrInvalidNode = errors.New("snowflake: node number must be between 0 and 1023")

type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
	now  func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > NodeMax {
		return nil, ErrInvalidNode
	}
	return &Node{
		node: node,
		now:  func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate returns the next id. A clock that moves backwards is pinned to
// the last observed millisecond so ids never go down.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now < n.time {
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = n.now()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - Epoch) << timeShift) | (n.node << nodeShift) | n.step
}
