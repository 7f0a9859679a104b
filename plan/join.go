package plan

import (
	"fmt"
	"strings"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
)

type JoinKind uint8

const (
	InnerJoin JoinKind = iota
	LeftJoin
	OuterJoin
	CrossJoin
	SemiJoin
	AntiJoin
	AsOfJoin
)

var joinKindNames = [...]string{"inner", "left", "outer", "cross", "semi", "anti", "asof"}

func (k JoinKind) String() string { return joinKindNames[k] }

// AsOfStrategy selects which build row an as-of probe row matches.
type AsOfStrategy uint8

const (
	AsOfBackward AsOfStrategy = iota // nearest key <= probe key
	AsOfForward                      // nearest key >= probe key
	AsOfNearest                      // closest key either side
)

var asOfStrategyNames = [...]string{"backward", "forward", "nearest"}

func (s AsOfStrategy) String() string { return asOfStrategyNames[s] }

// AsOfOpts configures an as-of join. Tolerance < 0 means unbounded.
type AsOfOpts struct {
	Strategy  AsOfStrategy
	Tolerance float64
}

// RightSuffix disambiguates right-side columns that collide with left
// names in join output schemas.
const RightSuffix = "_right"

// Join combines two inputs. Equality kinds carry key column lists of
// equal length and matching types; cross joins carry none. The output
// order of hash-executed joins is implementation-defined: callers sort
// explicitly when order matters.
type Join struct {
	Left    Node
	Right   Node
	Kind    JoinKind
	LeftOn  []*expr.Column
	RightOn []*expr.Column
	AsOf    *AsOfOpts
	// BuildLeft hints hash join build-side selection; set by the join
	// optimization pass from cardinality estimates.
	BuildLeft bool
	// KeepRightKeys retains right key columns in the output schema, as a
	// cross join would. The cross join rewrite sets it so the replacement
	// equality join produces the same columns.
	KeepRightKeys bool

	schema *types.Schema
}

func NewJoin(left, right Node, kind JoinKind, leftOn, rightOn []*expr.Column) (*Join, error) {
	return newJoin(left, right, kind, leftOn, rightOn, nil, false)
}

// NewJoinKeepingRightKeys builds an equality join whose output keeps
// the right key columns instead of deduplicating them.
func NewJoinKeepingRightKeys(left, right Node, kind JoinKind, leftOn, rightOn []*expr.Column) (*Join, error) {
	return newJoin(left, right, kind, leftOn, rightOn, nil, true)
}

// NewAsOfJoin matches each left row to the nearest right row on a
// monotonically ordered key per the strategy and tolerance.
func NewAsOfJoin(left, right Node, leftOn, rightOn *expr.Column, opts AsOfOpts) (*Join, error) {
	return newJoin(left, right, AsOfJoin, []*expr.Column{leftOn}, []*expr.Column{rightOn}, &opts, false)
}

func newJoin(left, right Node, kind JoinKind, leftOn, rightOn []*expr.Column, asOf *AsOfOpts, keepRightKeys bool) (*Join, error) {
	j := &Join{Left: left, Right: right, Kind: kind, LeftOn: leftOn, RightOn: rightOn, AsOf: asOf, KeepRightKeys: keepRightKeys}
	ls, rs := left.Schema(), right.Schema()
	switch kind {
	case CrossJoin:
		if len(leftOn) > 0 || len(rightOn) > 0 {
			return nil, qerr.InvalidOpf("cross join takes no key columns")
		}
	case AsOfJoin:
		if len(leftOn) != 1 || len(rightOn) != 1 {
			return nil, qerr.InvalidOpf("asof join takes exactly one key per side")
		}
		if asOf == nil {
			return nil, qerr.InvalidOpf("asof join requires asof options")
		}
	default:
		if len(leftOn) == 0 || len(leftOn) != len(rightOn) {
			return nil, qerr.InvalidOpf("%s join requires matching key column lists", kind)
		}
	}
	for i := range j.LeftOn {
		lf, ok := ls.Lookup(j.LeftOn[i].Name)
		if !ok {
			return nil, qerr.Schemaf("join key %q not found on left side", j.LeftOn[i].Name)
		}
		rf, ok := rs.Lookup(j.RightOn[i].Name)
		if !ok {
			return nil, qerr.Schemaf("join key %q not found on right side", j.RightOn[i].Name)
		}
		if lf.Type != rf.Type {
			return nil, qerr.Schemaf("join key type mismatch: %s vs %s, cast explicitly", lf, rf)
		}
		if kind == AsOfJoin && !lf.Type.IsNumeric() {
			return nil, qerr.Schemaf("asof join key must be numeric, got %s", lf.Type)
		}
	}
	schema, err := joinSchema(ls, rs, kind, j.RightOn, keepRightKeys)
	if err != nil {
		return nil, err
	}
	j.schema = schema
	return j, nil
}

// joinSchema merges sides: semi/anti keep only the left schema; equality
// kinds drop right key columns; colliding right names get a suffix.
func joinSchema(left, right *types.Schema, kind JoinKind, rightOn []*expr.Column, keepRightKeys bool) (*types.Schema, error) {
	if kind == SemiJoin || kind == AntiJoin {
		return left, nil
	}
	dropRight := map[string]bool{}
	if kind != CrossJoin && kind != OuterJoin && !keepRightKeys {
		for _, c := range rightOn {
			dropRight[c.Name] = true
		}
	}
	fields := append([]types.Field(nil), left.Fields()...)
	for _, f := range right.Fields() {
		if dropRight[f.Name] {
			continue
		}
		name := f.Name
		if left.Has(name) {
			name += RightSuffix
		}
		fields = append(fields, types.Field{Name: name, Type: f.Type})
	}
	schema, err := types.NewSchema(fields...)
	if err != nil {
		return nil, qerr.Schemaf("join schema: %s", err)
	}
	return schema, nil
}

func (j *Join) Schema() *types.Schema { return j.schema }
func (j *Join) Children() []Node      { return []Node{j.Left, j.Right} }

func (j *Join) WithChildren(children []Node) (Node, error) {
	if err := arity(j, children, 2); err != nil {
		return nil, err
	}
	out, err := newJoin(children[0], children[1], j.Kind, j.LeftOn, j.RightOn, j.AsOf, j.KeepRightKeys)
	if err != nil {
		return nil, err
	}
	out.BuildLeft = j.BuildLeft
	return out, nil
}

func (j *Join) String() string {
	if j.Kind == CrossJoin {
		return "Join cross"
	}
	keys := make([]string, len(j.LeftOn))
	for i := range j.LeftOn {
		keys[i] = fmt.Sprintf("%s=%s", j.LeftOn[i].Name, j.RightOn[i].Name)
	}
	s := fmt.Sprintf("Join %s on %s", j.Kind, strings.Join(keys, ", "))
	if j.AsOf != nil {
		s += fmt.Sprintf(" strategy=%s tolerance=%v", j.AsOf.Strategy, j.AsOf.Tolerance)
	}
	if j.BuildLeft {
		s += " build=left"
	}
	return s
}

// IntroducesNullsFor reports whether the join kind can emit null-padded
// rows for the given side, which makes pushing that side's filters
// below the join unsafe.
func (j *Join) IntroducesNullsFor(left bool) bool {
	switch j.Kind {
	case OuterJoin:
		return true
	case LeftJoin, AsOfJoin:
		return !left
	default:
		return false
	}
}
