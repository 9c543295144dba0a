// Planner ring buffer
//
// Fixed-capacity ring of move blocks with three cursors: w (write, next
// slot to fill), q (queue, next slot to commit) and r (run, block being
// executed or imminently next). The producer side (enqueue from the
// G-code front end) and the consumer side (segment preparer) both run on
// the reactor goroutine, so cursor updates need no synchronization; the
// single-producer/single-consumer split is preserved so the discipline
// still holds if the exec path is ever moved off the main loop.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

// nextIndex and prevIndex step a cursor around the ring.
func (p *Planner) nextIndex(i int) int {
	if i++; i >= len(p.buf) {
		return 0
	}
	return i
}

func (p *Planner) prevIndex(i int) int {
	if i--; i < 0 {
		return len(p.buf) - 1
	}
	return i
}

// nextBlock and prevBlock return a block's ring neighbors. Neighbors are
// computed from the slot number, never stored.
func (p *Planner) nextBlock(b *Block) *Block {
	return &p.buf[p.nextIndex(b.index)]
}

func (p *Planner) prevBlock(b *Block) *Block {
	return &p.buf[p.prevIndex(b.index)]
}

// getWriteBuffer allocates the block under the write cursor. Returns nil
// when the ring is full; the caller must back-pressure the producer.
func (p *Planner) getWriteBuffer() *Block {
	b := &p.buf[p.w]
	if b.State != BufferEmpty {
		return nil
	}
	b.clear()
	b.State = BufferLoading
	p.w = p.nextIndex(p.w)
	return b
}

// ungetWriteBuffer abandons the most recently allocated write buffer,
// rolling the write cursor back one slot.
func (p *Planner) ungetWriteBuffer() {
	p.w = p.prevIndex(p.w)
	p.buf[p.w].clear()
}

// queueWriteBuffer commits the block under the queue cursor. This is the
// publish point: after it returns the consumer side may observe the block.
func (p *Planner) queueWriteBuffer(kind MoveKind) *Block {
	b := &p.buf[p.q]
	b.Kind = kind
	b.State = BufferQueued
	p.q = p.nextIndex(p.q)
	return b
}

// getRunBuffer returns the block under the run cursor if one is committed,
// promoting it to RUNNING. Returns nil when nothing is runnable.
func (p *Planner) getRunBuffer() *Block {
	b := &p.buf[p.r]
	switch b.State {
	case BufferQueued, BufferPending:
		b.State = BufferRunning
		return b
	case BufferRunning:
		return b
	}
	return nil
}

// freeRunBuffer releases the running block back to EMPTY, advances the run
// cursor, and promotes the next committed block to PENDING so the stepper
// side knows what is coming.
func (p *Planner) freeRunBuffer() {
	p.buf[p.r].clear()
	p.r = p.nextIndex(p.r)
	if p.buf[p.r].State == BufferQueued {
		p.buf[p.r].State = BufferPending
	}
	if p.Metrics != nil {
		p.Metrics.QueueDepth.Set(nil, float64(p.queuedCount()))
	}
}

// TestWriteBuffer reports whether a write buffer is available. The G-code
// producer polls this to decide whether to accept another move.
func (p *Planner) TestWriteBuffer() bool {
	return p.buf[p.w].State == BufferEmpty
}

// QueuedCount returns the number of occupied ring slots. Status reports
// publish this as the queue depth.
func (p *Planner) QueuedCount() int {
	return p.queuedCount()
}

// lastQueuedBlock returns the newest committed block, or nil if the queue
// holds no committed work.
func (p *Planner) lastQueuedBlock() *Block {
	b := &p.buf[p.prevIndex(p.q)]
	switch b.State {
	case BufferQueued, BufferPending, BufferRunning:
		return b
	}
	return nil
}

// queueIsEmpty reports whether every ring slot is EMPTY.
func (p *Planner) queueIsEmpty() bool {
	for i := range p.buf {
		if p.buf[i].State != BufferEmpty {
			return false
		}
	}
	return true
}

// queuedCount returns the number of occupied ring slots.
func (p *Planner) queuedCount() int {
	n := 0
	for i := range p.buf {
		if p.buf[i].State != BufferEmpty {
			n++
		}
	}
	return n
}
