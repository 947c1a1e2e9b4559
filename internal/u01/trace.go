package u01

import (
	"errors"
	"fmt"
)

// Op is the kind of a trace event.
type Op string

const (
	OpAcquire Op = "acquire"
	OpUse     Op = "use"
	OpRelease Op = "release"
)

// Event is one step in the life of a resource.
type Event struct {
	Seq      int    `json:"seq"`
	Op       Op     `json:"op"`
	Resource int    `json:"resource"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Call     string `json:"call,omitempty"`
}

// Trace is the ordered record of a session.
type Trace struct {
	Events []Event `json:"events"`
}

func (t *Trace) record(op Op, r *resource, call string) {
	t.Events = append(t.Events, Event{
		Seq:      len(t.Events) + 1,
		Op:       op,
		Resource: r.id,
		Kind:     r.kind.String(),
		Name:     r.name,
		Call:     call,
	})
}

// Violation describes an event that breaks the acquire/use/release pairing.
type Violation struct {
	Seq      int
	Resource int
	Name     string
	Reason   string
}

func (v *Violation) Error() string {
	if v.Seq == 0 {
		return fmt.Sprintf("resource %d (%s): %s", v.Resource, v.Name, v.Reason)
	}
	return fmt.Sprintf("event %d, resource %d (%s): %s", v.Seq, v.Resource, v.Name, v.Reason)
}

// Verify checks that every acquired resource is released exactly once, after
// its last use, and that nothing is used outside its lifetime. It returns nil
// or the joined violations.
func (t *Trace) Verify() error {
	const (
		live = iota + 1
		dead
	)
	state := make(map[int]int)
	names := make(map[int]string)
	var order []int
	var errs []error
	for _, e := range t.Events {
		v := func(reason string) {
			errs = append(errs, &Violation{Seq: e.Seq, Resource: e.Resource, Name: e.Name, Reason: reason})
		}
		switch e.Op {
		case OpAcquire:
			if state[e.Resource] != 0 {
				v("acquired twice")
				continue
			}
			state[e.Resource] = live
			names[e.Resource] = e.Name
			order = append(order, e.Resource)
		case OpUse:
			switch state[e.Resource] {
			case 0:
				v("used before acquisition")
			case dead:
				v("used after release")
			}
		case OpRelease:
			switch state[e.Resource] {
			case 0:
				v("released before acquisition")
			case dead:
				v("released twice")
			default:
				state[e.Resource] = dead
			}
		default:
			v(fmt.Sprintf("unknown op %q", e.Op))
		}
	}
	for _, id := range order {
		if state[id] == live {
			errs = append(errs, &Violation{Resource: id, Name: names[id], Reason: "never released"})
		}
	}
	return errors.Join(errs...)
}

// Violations flattens the result of Verify into messages.
func (t *Trace) Violations() []string {
	err := t.Verify()
	if err == nil {
		return nil
	}
	var out []string
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
