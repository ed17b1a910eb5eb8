package main

// RotaryDirection is the direction of one completed encoder detent.
type RotaryDirection int

const (
	Clockwise        RotaryDirection = 1
	CounterClockwise RotaryDirection = -1
)

func (d RotaryDirection) String() string {
	switch d {
	case Clockwise:
		return "cw"
	case CounterClockwise:
		return "ccw"
	default:
		return "none"
	}
}

// Sign returns +1 for clockwise and -1 for counter-clockwise.
func (d RotaryDirection) Sign() int {
	if d == CounterClockwise {
		return -1
	}
	return 1
}

// Full-step quadrature states (buxtronix table).
const (
	quadStart    uint8 = 0x0
	quadCWFinal  uint8 = 0x1
	quadCWBegin  uint8 = 0x2
	quadCWNext   uint8 = 0x3
	quadCCWBegin uint8 = 0x4
	quadCCWFinal uint8 = 0x5
	quadCCWNext  uint8 = 0x6

	quadDirCW    uint8 = 0x10
	quadDirCCW   uint8 = 0x20
	quadDirMask  uint8 = 0x30
	quadStateMsk uint8 = 0x0f
)

// quadTable[state][input] is the next state. The high bits are set only on the
// transition back to Start that completes a detent.
var quadTable = [7][4]uint8{
	quadStart:    {quadStart, quadCWBegin, quadCCWBegin, quadStart},
	quadCWFinal:  {quadCWNext, quadStart, quadCWFinal, quadStart | quadDirCW},
	quadCWBegin:  {quadCWNext, quadCWBegin, quadStart, quadStart},
	quadCWNext:   {quadCWNext, quadCWBegin, quadCWFinal, quadStart},
	quadCCWBegin: {quadCCWNext, quadStart, quadCCWBegin, quadStart},
	quadCCWFinal: {quadCCWNext, quadCCWFinal, quadStart, quadStart | quadDirCCW},
	quadCCWNext:  {quadCCWNext, quadCCWFinal, quadCCWBegin, quadStart},
}

// QuadratureDecoder turns two sampled encoder lines into detent events.
// One instance per encoder; it is not safe for concurrent use.
type QuadratureDecoder struct {
	state  uint8
	invert bool
}

// NewQuadratureDecoder returns a decoder in the Start state. invert remaps both
// raw line levels before decoding, for electrically inverted wiring.
func NewQuadratureDecoder(invert bool) *QuadratureDecoder {
	return &QuadratureDecoder{state: quadStart, invert: invert}
}

// Check feeds one atomic sample of both lines. It returns the direction and true
// exactly once per completed detent.
//
// Transitions the table does not expect fall back to Start without emitting.
// Very fast rotation can lose a detent this way.
func (q *QuadratureDecoder) Check(lineA, lineB bool) (RotaryDirection, bool) {
	if q.invert {
		lineA, lineB = !lineA, !lineB
	}
	input := uint8(0)
	if lineA {
		input |= 0x1
	}
	if lineB {
		input |= 0x2
	}

	cur := q.state & quadStateMsk
	if int(cur) >= len(quadTable) {
		cur = quadStart
	}
	next := quadTable[cur][input]
	q.state = next & quadStateMsk

	switch next & quadDirMask {
	case quadDirCW:
		return Clockwise, true
	case quadDirCCW:
		return CounterClockwise, true
	default:
		return 0, false
	}
}
