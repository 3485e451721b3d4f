package engine

import (
	logging "github.com/ipfs/go-log/v2"

	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

// Context is what every stage of a tick gets to see besides the state.
type Context struct {
	Params  params.Params
	Tick    uint64
	History *History
	Rand    *rng.Source
	Log     *logging.ZapEventLogger

	events []Event
}

// Emit records an audit event for the current tick.
func (c *Context) Emit(e Event) {
	e.Tick = c.Tick
	c.events = append(c.events, e)
}

// Update writes one named state variable. It may read prev and anything
// earlier updates of the same block wrote into next.
type Update[S any] struct {
	Variable string
	Apply    func(c *Context, prev, next *model.State, sig S)
}

// Block is one substep: an optional policy computes a signal from the
// previous state, then the updates apply it in order to a copy.
type Block[S any] struct {
	Name    string
	Policy  func(c *Context, prev *model.State) S
	Updates []Update[S]
}

// Stage is a Block with its signal type erased.
type Stage interface {
	StageName() string
	Variables() []string
	Run(c *Context, prev *model.State) *model.State
}

func (b Block[S]) StageName() string { return b.Name }

func (b Block[S]) Variables() []string {
	out := make([]string, len(b.Updates))
	for i, u := range b.Updates {
		out[i] = u.Variable
	}
	return out
}

// Run leaves prev untouched and returns the next state.
func (b Block[S]) Run(c *Context, prev *model.State) *model.State {
	var sig S
	if b.Policy != nil {
		sig = b.Policy(c, prev)
	}
	next := prev.Clone()
	for _, u := range b.Updates {
		u.Apply(c, prev, next, sig)
	}
	return next
}
