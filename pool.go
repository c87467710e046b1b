package dipole

import "github.com/go-gl/mathgl/mgl32"

// particle is one simulation slot. The slot index is assigned at pool
// construction and doubles as the matrix offset into the lobe buffers;
// it never changes while the particle is alive.
type particle struct {
	slot int

	position    mgl32.Vec3
	orientation mgl32.Quat
	spinAxis    mgl32.Vec3

	ageRemaining float32
	ageTotal     float32
	peakScale    float32
}

// slotPool hands out fixed-identity slots from a preallocated array.
// Every slot is on exactly one of the free or active lists at any time,
// so free+active always partitions the full slot range.
type slotPool struct {
	particles []particle
	free      []int
	active    []int
}

func newSlotPool(capacity int) *slotPool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &slotPool{
		particles: make([]particle, capacity),
		free:      make([]int, 0, capacity),
		active:    make([]int, 0, capacity),
	}
	for i := range p.particles {
		p.particles[i].slot = i
	}
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

func (p *slotPool) capacity() int { return len(p.particles) }

// allocate pops one free slot and moves it to the active list.
// ok is false when the pool is saturated, which is not an error.
func (p *slotPool) allocate() (int, bool) {
	if len(p.free) == 0 {
		return 0, false
	}
	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.active = append(p.active, slot)
	return slot, true
}

// release moves slot from the active list back to the free list. The
// caller must have zeroed the slot's visual contribution first: once
// released, any allocate may hand the slot out and overwrite it.
// Removal keeps the surviving actives in order so the buffer write
// order stays stable from tick to tick.
func (p *slotPool) release(slot int) {
	for i, s := range p.active {
		if s == slot {
			p.active = append(p.active[:i], p.active[i+1:]...)
			p.free = append(p.free, slot)
			return
		}
	}
}

// activeSlots is the live traversal order for the current tick. Callers
// that release during iteration must track indices themselves.
func (p *slotPool) activeSlots() []int { return p.active }
