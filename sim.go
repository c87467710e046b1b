package dipole

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// Particles spawn uniformly inside a cube of side 8 centered at the
	// origin.
	spawnRegionHalf = 4.0
	// Lifetimes jitter up to 40% either side of the configured base.
	lifetimeJitter = 0.4
	// Freshly spawned particles start near-zero rather than exactly zero
	// so the first transform is never degenerate.
	epsilonScale = 1e-4
)

// field is the simulation state behind a Simulator: the slot pool, the
// current tunables, the buffer pair being written this tick and the
// spare pair waiting for the next swap.
type field struct {
	pool *slotPool
	cfg  Config

	write *MatrixPair
	spare *MatrixPair

	lobeRed  mgl32.Mat4
	lobeBlue mgl32.Mat4

	// Slots that died last tick. Their collapse was written to the pair
	// published that tick; the alternate pair still holds the old live
	// transform, so the next tick writes the collapse there too before
	// anything else touches the buffers.
	pendingCollapse []int

	rng *rand.Rand
}

func newField(fc FieldConfig, cfg Config, rng *rand.Rand) *field {
	capacity := fc.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	return &field{
		pool:     newSlotPool(capacity),
		cfg:      cfg,
		write:    newMatrixPair(capacity),
		spare:    newMatrixPair(capacity),
		lobeRed:  lobeOffset(fc.LobeOffset),
		lobeBlue: lobeOffset(-fc.LobeOffset),
		rng:      rng,
	}
}

// step advances the whole field by dt seconds. It reports whether the
// write buffers were touched (and therefore should be published) plus
// the spawn/death counts for telemetry.
//
// dt <= 0 skips all aging, but the spawn trial still runs with its then
// non-positive probability, so it can never fire.
func (f *field) step(dt float32) (changed bool, spawned, died int) {
	for _, slot := range f.pendingCollapse {
		p := &f.pool.particles[slot]
		collapsed := composeTransform(p.position, p.orientation, 0)
		putMat4(f.write.Red, slot, collapsed.Mul4(f.lobeRed))
		putMat4(f.write.Blue, slot, collapsed.Mul4(f.lobeBlue))
	}
	f.pendingCollapse = f.pendingCollapse[:0]

	// Spawn decision: one Bernoulli trial per tick. A saturated pool
	// skips the spawn silently.
	preSpawn := len(f.pool.active)
	if f.rng.Float32() < f.cfg.SpawnRate*dt {
		if slot, ok := f.pool.allocate(); ok {
			f.spawn(slot)
			changed = true
			spawned++
		}
	}

	if dt <= 0 {
		return changed, spawned, died
	}

	// Advance the particles that were active when the tick began. The
	// one spawned above sits at the tail of the active list and starts
	// aging next tick, so its first published transform shows the
	// epsilon grow-in state.
	i := 0
	for handled := 0; handled < preSpawn; handled++ {
		slot := f.pool.active[i]
		p := &f.pool.particles[slot]

		p.ageRemaining -= dt * f.cfg.SpeedMultiplier
		if p.ageRemaining <= 0 {
			collapsed := composeTransform(p.position, p.orientation, 0)
			putMat4(f.write.Red, slot, collapsed.Mul4(f.lobeRed))
			putMat4(f.write.Blue, slot, collapsed.Mul4(f.lobeBlue))
			f.pool.release(slot)
			f.pendingCollapse = append(f.pendingCollapse, slot)
			changed = true
			died++
			continue
		}

		progress := (p.ageTotal - p.ageRemaining) / p.ageTotal
		scale := float32(math.Sin(float64(progress)*math.Pi)) * p.peakScale
		p.orientation = applySpin(spinDelta(p.spinAxis, dt*f.cfg.SpinSpeed), p.orientation)

		base := composeTransform(p.position, p.orientation, scale)
		putMat4(f.write.Red, slot, base.Mul4(f.lobeRed))
		putMat4(f.write.Blue, slot, base.Mul4(f.lobeBlue))
		changed = true
		i++
	}

	return changed, spawned, died
}

// spawn initializes a freshly allocated slot and writes its grow-in
// transforms.
func (f *field) spawn(slot int) {
	p := &f.pool.particles[slot]

	life := f.cfg.LifetimeSec * (1 - lifetimeJitter + 2*lifetimeJitter*f.rng.Float32())
	p.ageTotal = life
	p.ageRemaining = life

	p.peakScale = f.cfg.ScaleBase * (1 - f.cfg.ScaleVariance + 2*f.cfg.ScaleVariance*f.rng.Float32())
	p.spinAxis = randomUnitVec3(f.rng)
	p.position = mgl32.Vec3{
		(f.rng.Float32()*2 - 1) * spawnRegionHalf,
		(f.rng.Float32()*2 - 1) * spawnRegionHalf,
		(f.rng.Float32()*2 - 1) * spawnRegionHalf,
	}
	p.orientation = eulerXYZ(
		f.rng.Float32()*2*math.Pi,
		f.rng.Float32()*2*math.Pi,
		f.rng.Float32()*2*math.Pi,
	)

	base := composeTransform(p.position, p.orientation, epsilonScale)
	putMat4(f.write.Red, slot, base.Mul4(f.lobeRed))
	putMat4(f.write.Blue, slot, base.Mul4(f.lobeBlue))
}

// swapForPublish hands the filled write pair out and installs the spare
// as the new write target. When the spare is still with the consumer a
// fresh zeroed pair is minted instead; fresh reports that.
func (f *field) swapForPublish() (out *OwnedPair, fresh bool) {
	out = ownPair(f.write)
	if f.spare != nil {
		f.write = f.spare
		f.spare = nil
		return out, false
	}
	f.write = newMatrixPair(f.pool.capacity())
	return out, true
}

// acceptReturn takes back a pair the consumer is done with. Pairs sized
// for an older session's capacity are dropped.
func (f *field) acceptReturn(p *MatrixPair) bool {
	if p == nil || p.slots() != f.pool.capacity() {
		return false
	}
	if f.spare == nil {
		f.spare = p
	}
	return true
}

// randomUnitVec3 samples a uniformly distributed direction.
func randomUnitVec3(rng *rand.Rand) mgl32.Vec3 {
	z := rng.Float32()*2 - 1
	phi := 2 * math.Pi * rng.Float64()
	r := float32(math.Sqrt(float64(1 - z*z)))
	return mgl32.Vec3{r * float32(math.Cos(phi)), r * float32(math.Sin(phi)), z}
}
