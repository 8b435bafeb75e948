// Package snowflake 生成按时间递增的 int64 序号（雪花算法），用作 Sequence 标识的默认来源
package snowflake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// 起始时间戳 (2024-01-01 00:00:00 UTC)，毫秒
	epochMillis int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	maxNode     = -1 ^ (-1 << nodeBits)     // 1023
	maxSequence = -1 ^ (-1 << sequenceBits) // 4095

	nodeShift = sequenceBits
	timeShift = sequenceBits + nodeBits
)

var (
	// ErrNodeOutOfRange 节点编号越界
	ErrNodeOutOfRange = errors.New("snowflake: node out of range")
	// ErrClockBackwards 时钟回拨
	ErrClockBackwards = errors.New("snowflake: clock moved backwards")
)

// Generator 单节点 ID 生成器，并发安全
type Generator struct {
	mu       sync.Mutex
	node     int64
	sequence int64
	lastMs   int64
	now      func() int64
}

// NewGenerator 创建节点编号为 node 的生成器
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > maxNode {
		return nil, ErrNodeOutOfRange
	}
	return &Generator{
		node:   node,
		lastMs: -1,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Next 生成下一个 ID；同一生成器产生的 ID 严格递增
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms < g.lastMs {
		return 0, ErrClockBackwards
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 当前毫秒序号耗尽
			for ms <= g.lastMs {
				ms = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return ((ms - epochMillis) << timeShift) | (g.node << nodeShift) | g.sequence, nil
}

// Parts ID 的组成部分
type Parts struct {
	Time     time.Time
	Node     int64
	Sequence int64
}

// Decompose 拆解 ID
func Decompose(id int64) Parts {
	return Parts{
		Time:     time.UnixMilli((id >> timeShift) + epochMillis).UTC(),
		Node:     (id >> nodeShift) & maxNode,
		Sequence: id & maxSequence,
	}
}

var defaultGenerator atomic.Pointer[Generator]

func init() {
	gen, _ := NewGenerator(1)
	defaultGenerator.Store(gen)
}

// Next 使用默认生成器生成 ID
func Next() (int64, error) {
	return defaultGenerator.Load().Next()
}

// SetNode 以新的节点编号替换默认生成器
func SetNode(node int64) error {
	gen, err := NewGenerator(node)
	if err != nil {
		return err
	}
	defaultGenerator.Store(gen)
	return nil
}
