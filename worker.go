package dipole

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// cmdKind enumerates the control protocol verbs.
type cmdKind int

const (
	cmdInit cmdKind = iota
	cmdStart
	cmdStop
	cmdUpdateConfig
	cmdReturnBuffers
)

// command is the tagged union carried on the control channel. Only the
// field matching kind is set.
type command struct {
	kind  cmdKind
	init  *InitParams
	patch *ConfigPatch
	pair  *OwnedPair
}

// InitParams starts a new simulation session: pool and buffers are
// reallocated, the field is reset to empty and stopped.
type InitParams struct {
	Field  FieldConfig
	Config Config
	// Seed fixes the random stream; 0 seeds from the wall clock.
	Seed int64
}

// MatricesUpdate transfers a filled buffer pair to the consumer.
// Session identifies the init that produced it, so a consumer can
// discard updates that raced a re-init.
type MatricesUpdate struct {
	Session string
	Pair    *OwnedPair
}

// Simulator owns the particle field and runs it on its own goroutine.
// All interaction goes through the control channel (fire-and-forget
// commands, FIFO) and the updates channel (buffer-pair transfers); no
// other memory is shared with the consumer.
type Simulator struct {
	log       Logger
	ticks     TickSource
	telemetry *TelemetryWriter

	ctrl    chan command
	updates chan MatricesUpdate

	// Everything below is owned by the Run goroutine.
	session  string
	field    *field
	running  bool
	tick     int64
	lastTick time.Time
	hasLast  bool
	ledger   pairLedger
}

// NewSimulator wires a simulator to its tick source. log may be nil;
// telemetry may be nil to disable stats output.
func NewSimulator(ticks TickSource, log Logger, telemetry *TelemetryWriter) *Simulator {
	if log == nil {
		log = NewNopLogger()
	}
	return &Simulator{
		log:       log,
		ticks:     ticks,
		telemetry: telemetry,
		ctrl:      make(chan command, 16),
		updates:   make(chan MatricesUpdate, 2),
	}
}

// Updates is the consumer side of the buffer hand-off. On receipt the
// consumer must copy both buffers, mark its render storage dirty, then
// send the pair back with ReturnBuffers.
func (s *Simulator) Updates() <-chan MatricesUpdate { return s.updates }

// Init begins a fresh session.
func (s *Simulator) Init(p InitParams) { s.ctrl <- command{kind: cmdInit, init: &p} }

// Start begins ticking. No-op while already running.
func (s *Simulator) Start() { s.ctrl <- command{kind: cmdStart} }

// Stop halts ticking cooperatively: the flag is checked before the next
// tick runs, so a stop can land up to one frame late.
func (s *Simulator) Stop() { s.ctrl <- command{kind: cmdStop} }

// UpdateConfig merges a partial configuration change, applied from the
// start of the next tick.
func (s *Simulator) UpdateConfig(patch ConfigPatch) {
	s.ctrl <- command{kind: cmdUpdateConfig, patch: &patch}
}

// ReturnBuffers gives a previously transferred pair back to the
// simulator.
func (s *Simulator) ReturnBuffers(pair *OwnedPair) {
	s.ctrl <- command{kind: cmdReturnBuffers, pair: pair}
}

// Close shuts the control channel down; Run returns after draining it.
// No commands may be sent after Close.
func (s *Simulator) Close() { close(s.ctrl) }

// Run executes the simulation loop until Close. Commands are handled in
// send order; ticks only advance the field while running.
func (s *Simulator) Run() {
	for {
		if s.running {
			select {
			case cmd, ok := <-s.ctrl:
				if !ok {
					return
				}
				s.dispatch(cmd)
			case now := <-s.ticks.Ticks():
				s.runTick(now)
			}
		} else {
			cmd, ok := <-s.ctrl
			if !ok {
				return
			}
			s.dispatch(cmd)
		}
	}
}

// dispatch handles one control command. Unknown kinds are reported and
// dropped; nothing in here can take the loop down.
func (s *Simulator) dispatch(cmd command) {
	switch cmd.kind {
	case cmdInit:
		s.handleInit(*cmd.init)
	case cmdStart:
		if s.field == nil {
			s.log.Warnf("start before init ignored")
			return
		}
		if !s.running {
			s.running = true
			s.hasLast = false
		}
	case cmdStop:
		s.running = false
	case cmdUpdateConfig:
		if s.field == nil {
			s.log.Warnf("configuration update before init ignored")
			return
		}
		s.field.cfg.apply(*cmd.patch)
	case cmdReturnBuffers:
		s.handleReturn(cmd.pair)
	default:
		s.log.Warnf("dropping unknown control command kind %d", cmd.kind)
	}
}

func (s *Simulator) handleInit(p InitParams) {
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.session = uuid.NewString()
	s.field = newField(p.Field, p.Config, rand.New(rand.NewSource(seed)))
	s.running = false
	s.tick = 0
	s.hasLast = false
	s.ledger = pairLedger{}
	s.log.Infof("session %s: pool capacity %d, lobe offset %v",
		s.session, s.field.pool.capacity(), p.Field.LobeOffset)
}

func (s *Simulator) handleReturn(pair *OwnedPair) {
	if pair == nil || pair.taken() {
		s.log.Warnf("ignoring empty buffer return")
		return
	}
	p := pair.Take()
	s.ledger.returned++
	if s.field == nil || !s.field.acceptReturn(p) {
		s.log.Debugf("discarding returned pair from a previous session")
	}
}

func (s *Simulator) runTick(now time.Time) {
	if s.field == nil {
		return
	}
	var dt float32
	if s.hasLast {
		dt = float32(now.Sub(s.lastTick).Seconds())
	}
	s.lastTick = now
	s.hasLast = true
	s.tick++

	changed, spawned, died := s.field.step(dt)

	published := false
	freshThisTick := 0
	if changed {
		out, fresh := s.field.swapForPublish()
		if fresh {
			s.ledger.fresh++
			freshThisTick = 1
			s.log.Debugf("tick %d: previous pair still outstanding, minted a fresh one", s.tick)
		}
		select {
		case s.updates <- MatricesUpdate{Session: s.session, Pair: out}:
			s.ledger.sent++
			published = true
		default:
			// Consumer backlog. Drop the publish, keep the buffers.
			s.field.acceptReturn(out.Take())
			s.log.Debugf("tick %d: publish skipped, consumer backlog", s.tick)
		}
	}

	err := s.telemetry.Write(TickStats{
		Tick:        s.tick,
		Dt:          dt,
		Active:      len(s.field.pool.active),
		Spawned:     spawned,
		Died:        died,
		Published:   published,
		FreshPairs:  freshThisTick,
		Outstanding: s.ledger.outstanding(),
	})
	if err != nil {
		s.log.Warnf("telemetry write failed: %v", err)
	}
}
