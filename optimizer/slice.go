package optimizer

import (
	"github.com/vireodb/vireo/plan"
)

// slicePushdownRule sinks Slice nodes toward the leaves: through
// row-count-preserving operators, composing with nested slices, and
// finally into Scan limits. A slice never crosses a Filter; the scan
// applies its pushed predicate before counting rows against the limit,
// so a limit that reaches the scan alongside a predicate stays exact.
type slicePushdownRule struct{}

func (slicePushdownRule) Name() string { return "slice_pushdown" }

func (slicePushdownRule) Apply(root plan.Node) (plan.Node, error) {
	return rewriteUp(root, func(n plan.Node) (plan.Node, error) {
		s, ok := n.(*plan.Slice)
		if !ok {
			return n, nil
		}
		out, sunk, err := sinkSlice(s.Offset, s.Len, s.Input)
		if err != nil {
			return nil, err
		}
		if !sunk {
			return n, nil
		}
		return out, nil
	})
}

// sinkSlice pushes the window [offset, offset+length) into child.
// length < 0 means to the end. Reports whether any rewrite happened.
func sinkSlice(offset, length int64, child plan.Node) (plan.Node, bool, error) {
	switch c := child.(type) {
	case *plan.Projection:
		if c.HasWindow() {
			return nil, false, nil
		}
		in, _, err := sinkOrWrap(offset, length, c.Input)
		if err != nil {
			return nil, false, err
		}
		out, err := plan.NewProjection(in, c.Exprs)
		return out, true, err

	case *plan.Slice:
		// Compose: the outer window indexes into the inner one.
		newLen := length
		if c.Len >= 0 {
			avail := c.Len - offset
			if avail < 0 {
				avail = 0
			}
			if length < 0 || length > avail {
				newLen = avail
			}
		}
		out, _, err := sinkOrWrap(c.Offset+offset, newLen, c.Input)
		return out, true, err

	case *plan.Scan:
		if length < 0 {
			// Only an offset; nothing a limit can express.
			return nil, false, nil
		}
		want := offset + length
		if c.Limit >= 0 && c.Limit < want {
			want = c.Limit
		}
		scan, err := c.With(c.Projection, c.Predicate, want)
		if err != nil {
			return nil, false, err
		}
		if offset == 0 {
			return scan, true, nil
		}
		out, err := plan.NewSlice(scan, offset, length)
		return out, true, err

	case *plan.Union:
		if length < 0 {
			return nil, false, nil
		}
		// Each input contributes at most its first offset+length rows
		// to the selected window.
		inputs := make([]plan.Node, len(c.Inputs))
		for i, in := range c.Inputs {
			ni, _, err := sinkOrWrap(0, offset+length, in)
			if err != nil {
				return nil, false, err
			}
			inputs[i] = ni
		}
		u, err := plan.NewUnion(inputs)
		if err != nil {
			return nil, false, err
		}
		out, err := plan.NewSlice(u, offset, length)
		return out, true, err

	default:
		return nil, false, nil
	}
}

// sinkOrWrap sinks the window or, when the child refuses it, rebuilds
// the explicit Slice node above it.
func sinkOrWrap(offset, length int64, child plan.Node) (plan.Node, bool, error) {
	out, sunk, err := sinkSlice(offset, length, child)
	if err != nil {
		return nil, false, err
	}
	if sunk {
		return out, true, nil
	}
	s, err := plan.NewSlice(child, offset, length)
	return s, false, err
}
