package effects

// Effector processes one stereo frame.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain applies a sequence of effects in order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

func (c *Chain) Add(e Effector) {
	c.effects = append(c.effects, e)
}

func (c *Chain) Len() int {
	return len(c.effects)
}

// NewMasterBus builds the output chain used for hymn playback: an optional
// hall reverb followed by a limiter that keeps four summed voices below
// full scale. A reverbWet of 0 leaves the reverb out.
func NewMasterBus(sampleRate int, reverbWet float32) *Chain {
	c := NewChain()
	if reverbWet > 0 {
		c.Add(NewReverb(sampleRate, 0.8, 0.78, reverbWet))
	}
	c.Add(NewLimiter(sampleRate, -1, 5, 120))
	return c
}
