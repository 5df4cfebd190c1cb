package il

import (
	"tlog.app/go/errors"
)

// CheckInvariants verifies the invariants every pass must restore at
// quiescence: consistent parent links, accurate variable use counters,
// accurate incoming-edge counts, and flow flags that equal their
// derivation. It is the watchdog the test suite runs after each pass.
func (f *Function) CheckInvariants() error {
	if f.body == nil {
		return nil
	}

	loads := map[*Variable]int{}
	stores := map[*Variable]int{}
	addrs := map[*Variable]int{}
	incoming := map[*Instruction]int{}

	var err error

	f.body.DescendantsAndSelf(func(i *Instruction) bool {
		if err != nil {
			return false
		}

		for n, c := range i.children {
			if c.parent != i || c.childIndex != n {
				err = errors.New("parent link broken: %v child %d of %v", c.op, n, i.op)
				return false
			}
		}

		if !i.connected {
			err = errors.New("disconnected node %v inside the tree", i.op)
			return false
		}

		if i.variable != nil {
			switch i.op {
			case OpLdLoc:
				loads[i.variable]++
			case OpStLoc:
				stores[i.variable]++
			case OpLdLoca:
				addrs[i.variable]++
			}
		}

		if i.op == OpBranch && i.target != nil {
			incoming[i.target]++
		}

		if want := i.computeFlags(); i.flagsValid && i.flags != want {
			err = errors.New("stale flags on %v: cached %b, derived %b", i.op, i.flags, want)
			return false
		}

		return true
	})

	if err != nil {
		return err
	}

	for _, v := range f.Variables {
		if v.LoadCount != loads[v] || v.StoreCount != stores[v] || v.AddressCount != addrs[v] {
			return errors.New("use count drift on %v: recorded ld:%d st:%d adr:%d, actual ld:%d st:%d adr:%d",
				v.VarName, v.LoadCount, v.StoreCount, v.AddressCount, loads[v], stores[v], addrs[v])
		}
	}

	var blockErr error

	f.body.DescendantsAndSelf(func(i *Instruction) bool {
		if blockErr != nil {
			return false
		}

		if i.op == OpBlock && i.incomingEdgeCount != incoming[i] {
			blockErr = errors.New("incoming edge drift on block %d: recorded %d, actual %d",
				i.childIndex, i.incomingEdgeCount, incoming[i])
			return false
		}

		return true
	})

	return blockErr
}
