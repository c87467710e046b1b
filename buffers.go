package dipole

// MatrixPair is the two per-lobe transform buffers, sized for the full
// pool capacity and moved between the simulator and the consumer as one
// unit. Dead slots keep their last-written collapsed transform until a
// respawn overwrites them, so a buffer is always fully drawable.
type MatrixPair struct {
	Red  []byte
	Blue []byte
}

func newMatrixPair(capacity int) *MatrixPair {
	n := capacity * MatrixBytes
	return &MatrixPair{Red: make([]byte, n), Blue: make([]byte, n)}
}

// slots reports how many matrices each lobe buffer holds.
func (p *MatrixPair) slots() int { return len(p.Red) / MatrixBytes }

// OwnedPair is a move-only handle on a MatrixPair. Take consumes the
// handle, so after a transfer the sending side keeps no usable
// reference: touching a pair you have handed off is a programming error
// and panics rather than racing.
type OwnedPair struct {
	pair *MatrixPair
}

// NewOwnedPair wraps a pair in a fresh handle. Consumers use it to send
// a pair back after taking it out of an update.
func NewOwnedPair(p *MatrixPair) *OwnedPair {
	return &OwnedPair{pair: p}
}

func ownPair(p *MatrixPair) *OwnedPair {
	return &OwnedPair{pair: p}
}

// Take consumes the handle and yields the underlying pair. It panics on
// a handle that was already taken.
func (o *OwnedPair) Take() *MatrixPair {
	if o.pair == nil {
		panic("dipole: matrix pair already taken")
	}
	p := o.pair
	o.pair = nil
	return p
}

// taken reports whether the handle has been consumed.
func (o *OwnedPair) taken() bool { return o.pair == nil }

// pairLedger counts pair movements across the ownership boundary.
// sent-returned is the number of pairs currently held by the consumer;
// fresh counts the zeroed replacement pairs minted when a publish came
// due before the previous pair made it back.
type pairLedger struct {
	sent     int
	returned int
	fresh    int
}

func (l *pairLedger) outstanding() int { return l.sent - l.returned }
