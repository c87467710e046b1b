package dipole

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func testField(capacity int, cfg Config) *field {
	return newField(FieldConfig{Capacity: capacity, LobeOffset: 0.5}, cfg, rand.New(rand.NewSource(42)))
}

// scaleAt extracts the uniform scale at a slot, assuming spin is off so
// the rotation block stays a pure rotation times scale.
func scaleAt(buf []byte, slot int) float32 {
	m := getMat4(buf, slot)
	col := mgl32.Vec3{m[0], m[1], m[2]}
	return col.Len()
}

// plantParticle puts one particle with exact parameters into the pool,
// the way an external spawn would, writing its grow-in transforms.
func plantParticle(f *field, ageTotal, peakScale float32) int {
	slot, _ := f.pool.allocate()
	p := &f.pool.particles[slot]
	p.position = mgl32.Vec3{}
	p.orientation = mgl32.QuatIdent()
	p.spinAxis = mgl32.Vec3{0, 1, 0}
	p.ageTotal = ageTotal
	p.ageRemaining = ageTotal
	p.peakScale = peakScale
	base := composeTransform(p.position, p.orientation, epsilonScale)
	putMat4(f.write.Red, slot, base.Mul4(f.lobeRed))
	putMat4(f.write.Blue, slot, base.Mul4(f.lobeBlue))
	return slot
}

func TestStep_EnvelopeSequenceAndRelease(t *testing.T) {
	// Single particle, 2s life, half-second ticks: progress hits
	// 0, 0.25, 0.5, 0.75 and the slot is released on the 4th tick.
	cfg := Config{SpeedMultiplier: 1, SpawnRate: 0, SpinSpeed: 0}
	f := testField(1, cfg)
	const peak = float32(3)
	slot := plantParticle(f, 2, peak)

	if got := scaleAt(f.write.Red, slot); math.Abs(float64(got-epsilonScale)) > 1e-6 {
		t.Fatalf("Spawn scale: got %v want epsilon %v", got, epsilonScale)
	}

	wantScale := []float64{
		float64(peak) * math.Sin(0.25*math.Pi),
		float64(peak), // sin(pi/2) is exactly 1
		float64(peak) * math.Sin(0.75*math.Pi),
	}
	for tick, want := range wantScale {
		changed, _, died := f.step(0.5)
		if !changed || died != 0 {
			t.Fatalf("Tick %d: changed=%v died=%d", tick+1, changed, died)
		}
		got := float64(scaleAt(f.write.Red, slot))
		if math.Abs(got-want) > 1e-5 {
			t.Errorf("Tick %d scale: got %v want %v", tick+1, got, want)
		}
	}

	// Exact equality at the midpoint.
	f2 := testField(1, cfg)
	s2 := plantParticle(f2, 2, peak)
	f2.step(0.5)
	f2.step(0.5)
	if got := scaleAt(f2.write.Red, s2); got != peak {
		t.Errorf("Midpoint scale must equal peakScale exactly: got %v want %v", got, peak)
	}

	// 4th tick: death, zero-scale write, release.
	changed, _, died := f.step(0.5)
	if !changed || died != 1 {
		t.Fatalf("4th tick should kill the particle: changed=%v died=%d", changed, died)
	}
	if got := scaleAt(f.write.Red, slot); got != 0 {
		t.Errorf("Dead slot scale: got %v want 0", got)
	}
	if got := scaleAt(f.write.Blue, slot); got != 0 {
		t.Errorf("Dead slot blue scale: got %v want 0", got)
	}
	if len(f.pool.active) != 0 || len(f.pool.free) != 1 {
		t.Errorf("Slot should be released exactly once: %d active %d free", len(f.pool.active), len(f.pool.free))
	}
}

func TestStep_AgeIsMonotonic(t *testing.T) {
	cfg := Config{SpeedMultiplier: 1.3, SpinSpeed: 2}
	f := testField(1, cfg)
	slot := plantParticle(f, 5, 1)

	prev := f.pool.particles[slot].ageRemaining
	for i := 0; i < 40 && len(f.pool.active) > 0; i++ {
		f.step(0.1)
		cur := f.pool.particles[slot].ageRemaining
		if cur > prev {
			t.Fatalf("ageRemaining increased from %v to %v", prev, cur)
		}
		prev = cur
	}
	if len(f.pool.active) != 0 {
		t.Error("Particle should have died within 40 ticks")
	}
}

func TestStep_ZeroDtNeverSpawnsOrAges(t *testing.T) {
	cfg := Config{LifetimeSec: 4, SpeedMultiplier: 1, SpawnRate: 1e6, ScaleBase: 1, SpinSpeed: 1}
	f := testField(8, cfg)
	slot := plantParticle(f, 4, 1)
	before := f.pool.particles[slot].ageRemaining

	for i := 0; i < 500; i++ {
		changed, spawned, died := f.step(0)
		if changed || spawned != 0 || died != 0 {
			t.Fatalf("dt=0 tick %d did work: changed=%v spawned=%d died=%d", i, changed, spawned, died)
		}
	}
	if got := f.pool.particles[slot].ageRemaining; got != before {
		t.Errorf("dt=0 aged the particle: %v -> %v", before, got)
	}
}

func TestStep_NegativeDtIsNoop(t *testing.T) {
	cfg := Config{LifetimeSec: 4, SpawnRate: 1e6, SpeedMultiplier: 1}
	f := testField(4, cfg)
	changed, spawned, _ := f.step(-0.016)
	if changed || spawned != 0 {
		t.Errorf("Negative dt should do nothing: changed=%v spawned=%d", changed, spawned)
	}
}

func TestStep_SaturationScenario(t *testing.T) {
	// 400 slots, 400 spawns/s at 60Hz for 600 ticks with effectively
	// immortal particles: one Bernoulli spawn per tick, certain since
	// p = 400/60 > 1, so the pool saturates at tick 400.
	cfg := Config{LifetimeSec: 1e9, SpeedMultiplier: 1, SpawnRate: 400, ScaleBase: 1, SpinSpeed: 1}
	f := testField(400, cfg)
	dt := float32(1.0 / 60.0)

	for i := 0; i < 600; i++ {
		f.step(dt)
		if len(f.pool.active) > 400 {
			t.Fatalf("Tick %d: active %d exceeds capacity", i, len(f.pool.active))
		}
	}
	if len(f.pool.active) != 400 {
		t.Errorf("Expected saturated pool, got %d active", len(f.pool.active))
	}
	if len(f.pool.free) != 0 {
		t.Errorf("Expected empty free list, got %d", len(f.pool.free))
	}
}

func TestStep_SpawnRespectsConfiguredRanges(t *testing.T) {
	cfg := Config{
		LifetimeSec:     4,
		SpeedMultiplier: 1,
		SpawnRate:       1e6,
		ScaleBase:       0.6,
		ScaleVariance:   0.5,
		SpinSpeed:       1,
	}
	f := testField(64, cfg)
	for i := 0; i < 64; i++ {
		f.step(0.01)
	}
	if len(f.pool.active) == 0 {
		t.Fatal("Expected spawns")
	}
	for _, slot := range f.pool.active {
		p := f.pool.particles[slot]
		if p.ageTotal < (1-lifetimeJitter)*cfg.LifetimeSec || p.ageTotal > (1+lifetimeJitter)*cfg.LifetimeSec {
			t.Errorf("Lifetime %v outside base*(1±jitter)", p.ageTotal)
		}
		if p.peakScale < cfg.ScaleBase*(1-cfg.ScaleVariance) || p.peakScale > cfg.ScaleBase*(1+cfg.ScaleVariance) {
			t.Errorf("Peak scale %v outside base*(1±variance)", p.peakScale)
		}
		for axis := 0; axis < 3; axis++ {
			if c := p.position[axis]; c < -spawnRegionHalf || c > spawnRegionHalf {
				t.Errorf("Position coordinate %v outside spawn cube", c)
			}
		}
		if l := p.spinAxis.Len(); math.Abs(float64(l)-1) > 1e-5 {
			t.Errorf("Spin axis length %v, want unit", l)
		}
	}
}

func TestStep_NewSpawnAgesFromNextTick(t *testing.T) {
	cfg := Config{LifetimeSec: 4, SpeedMultiplier: 1, SpawnRate: 1e6, ScaleBase: 1, SpinSpeed: 1}
	f := testField(1, cfg)

	changed, spawned, _ := f.step(0.5)
	if !changed || spawned != 1 {
		t.Fatalf("Expected a certain spawn: changed=%v spawned=%d", changed, spawned)
	}
	slot := f.pool.active[0]
	p := f.pool.particles[slot]
	if p.ageRemaining != p.ageTotal {
		t.Errorf("Fresh particle aged on its spawn tick: %v of %v left", p.ageRemaining, p.ageTotal)
	}
	// The published transform for the spawn tick shows the grow-in state.
	if got := scaleAt(f.write.Red, slot); math.Abs(float64(got-epsilonScale)) > 1e-6 {
		t.Errorf("Spawn tick scale: got %v want epsilon", got)
	}
}

func TestStep_CollapseReachesAlternateBuffer(t *testing.T) {
	// A death is written to the pair published that tick; the next tick
	// must write the collapse into the other pair too, or the dead slot
	// would reappear when that pair is published.
	cfg := Config{SpeedMultiplier: 1, SpawnRate: 0, SpinSpeed: 0}
	f := testField(1, cfg)
	slot := plantParticle(f, 0.1, 2)

	changed, _, died := f.step(0.2)
	if !changed || died != 1 {
		t.Fatalf("Expected death: changed=%v died=%d", changed, died)
	}
	out, fresh := f.swapForPublish()
	if fresh {
		t.Fatal("Spare pair should have been available")
	}

	// The new write pair has never seen this slot; the next step fixes
	// that before anything else.
	f.step(0.016)
	if got := scaleAt(f.write.Red, slot); got != 0 {
		t.Errorf("Alternate buffer red scale: got %v want 0", got)
	}
	if got := scaleAt(f.write.Blue, slot); got != 0 {
		t.Errorf("Alternate buffer blue scale: got %v want 0", got)
	}
	_ = out.Take()
}

func TestSwapForPublish_MintsFreshPairWhenSpareOutstanding(t *testing.T) {
	f := testField(2, Config{})
	first, fresh := f.swapForPublish()
	if fresh {
		t.Fatal("First publish should use the spare")
	}
	second, fresh := f.swapForPublish()
	if !fresh {
		t.Error("Second publish without a return should mint a fresh pair")
	}
	if f.write == nil || f.write.slots() != 2 {
		t.Error("Fresh write pair should be sized for the pool capacity")
	}

	// Returning a pair makes it the spare again; stale sizes are dropped.
	if !f.acceptReturn(first.Take()) {
		t.Error("Same-capacity return should be accepted")
	}
	if f.acceptReturn(newMatrixPair(99)) {
		t.Error("Mis-sized return should be dropped")
	}
	_ = second.Take()
}
