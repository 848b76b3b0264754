package predicate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danthegoodman1/sdcdb/table"
)

// Value is a parsed numeric operand or range bound.
type Value struct {
	Type table.DataType
	I    int64
	F    float64
}

func ParseValue(s string, typ table.DataType) (Value, error) {
	s = strings.TrimSpace(s)
	switch typ {
	case table.Int:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an int: %s", ErrBadOperand, s, err)
		}
		return Value{Type: table.Int, I: i, F: float64(i)}, nil
	case table.Double:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return Value{}, fmt.Errorf("%w: %q is not a double", ErrBadOperand, s)
		}
		return Value{Type: table.Double, F: f}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown type %q for operand %q", ErrBadOperand, typ, s)
	}
}

func (v Value) String() string {
	if v.Type == table.Int {
		return strconv.FormatInt(v.I, 10)
	}
	return strconv.FormatFloat(v.F, 'g', -1, 64)
}

// Compare orders two values, comparing as floats when the types differ.
func Compare(a, b Value) int {
	if a.Type == table.Int && b.Type == table.Int {
		switch {
		case a.I < b.I:
			return -1
		case a.I > b.I:
			return 1
		}
		return 0
	}
	switch {
	case a.F < b.F:
		return -1
	case a.F > b.F:
		return 1
	}
	return 0
}

// Bound is one end of an Interval. The zero Bound is unbounded.
type Bound struct {
	Set       bool
	Value     Value
	Inclusive bool
}

func Unbounded() Bound {
	return Bound{}
}

func Inclusive(v Value) Bound {
	return Bound{Set: true, Value: v, Inclusive: true}
}

func Exclusive(v Value) Bound {
	return Bound{Set: true, Value: v}
}

// Interval is a possibly half-open range of values of one type.
type Interval struct {
	Lo, Hi Bound
	empty  bool
}

func All() Interval {
	return Interval{}
}

func Point(v Value) Interval {
	return Interval{Lo: Inclusive(v), Hi: Inclusive(v)}
}

func (iv Interval) IsAll() bool {
	return !iv.empty && !iv.Lo.Set && !iv.Hi.Set
}

// normalize rewrites exclusive int bounds as inclusive ones (x > 3 is x >= 4),
// so set operations on ints see through the strictness of an operator.
func (iv Interval) normalize() Interval {
	if iv.empty {
		return iv
	}
	if iv.Lo.Set && !iv.Lo.Inclusive && iv.Lo.Value.Type == table.Int {
		if iv.Lo.Value.I == math.MaxInt64 {
			return Interval{empty: true}
		}
		iv.Lo = Inclusive(intValue(iv.Lo.Value.I + 1))
	}
	if iv.Hi.Set && !iv.Hi.Inclusive && iv.Hi.Value.Type == table.Int {
		if iv.Hi.Value.I == math.MinInt64 {
			return Interval{empty: true}
		}
		iv.Hi = Inclusive(intValue(iv.Hi.Value.I - 1))
	}
	return iv
}

func intValue(i int64) Value {
	return Value{Type: table.Int, I: i, F: float64(i)}
}

func (iv Interval) IsEmpty() bool {
	n := iv.normalize()
	if n.empty {
		return true
	}
	if !n.Lo.Set || !n.Hi.Set {
		return false
	}
	c := Compare(n.Lo.Value, n.Hi.Value)
	return c > 0 || (c == 0 && !(n.Lo.Inclusive && n.Hi.Inclusive))
}

// Contains reports whether every value in o is also in iv.
func (iv Interval) Contains(o Interval) bool {
	if o.IsEmpty() {
		return true
	}
	if iv.IsEmpty() {
		return false
	}
	a, b := iv.normalize(), o.normalize()
	return !LowerTighter(a.Lo, b.Lo) && !UpperTighter(a.Hi, b.Hi)
}

func (iv Interval) ContainsValue(v Value) bool {
	return iv.Contains(Point(v))
}

func (iv Interval) Intersect(o Interval) Interval {
	if iv.empty || o.empty {
		return Interval{empty: true}
	}
	out := iv
	if LowerTighter(o.Lo, iv.Lo) {
		out.Lo = o.Lo
	}
	if UpperTighter(o.Hi, iv.Hi) {
		out.Hi = o.Hi
	}
	if out.IsEmpty() {
		return Interval{empty: true}
	}
	return out
}

// LowerTighter reports whether lower bound a admits strictly fewer values than b.
func LowerTighter(a, b Bound) bool {
	a, b = normalizeLower(a), normalizeLower(b)
	if !a.Set {
		return false
	}
	if !b.Set {
		return true
	}
	c := Compare(a.Value, b.Value)
	return c > 0 || (c == 0 && !a.Inclusive && b.Inclusive)
}

// UpperTighter reports whether upper bound a admits strictly fewer values than b.
func UpperTighter(a, b Bound) bool {
	a, b = normalizeUpper(a), normalizeUpper(b)
	if !a.Set {
		return false
	}
	if !b.Set {
		return true
	}
	c := Compare(a.Value, b.Value)
	return c < 0 || (c == 0 && !a.Inclusive && b.Inclusive)
}

func normalizeLower(b Bound) Bound {
	if b.Set && !b.Inclusive && b.Value.Type == table.Int && b.Value.I < math.MaxInt64 {
		return Inclusive(intValue(b.Value.I + 1))
	}
	return b
}

func normalizeUpper(b Bound) Bound {
	if b.Set && !b.Inclusive && b.Value.Type == table.Int && b.Value.I > math.MinInt64 {
		return Inclusive(intValue(b.Value.I - 1))
	}
	return b
}

func (iv Interval) String() string {
	if iv.IsEmpty() {
		return "{}"
	}
	var sb strings.Builder
	if iv.Lo.Set && iv.Lo.Inclusive {
		sb.WriteString("[")
	} else {
		sb.WriteString("(")
	}
	if iv.Lo.Set {
		sb.WriteString(iv.Lo.Value.String())
	} else {
		sb.WriteString("-inf")
	}
	sb.WriteString(", ")
	if iv.Hi.Set {
		sb.WriteString(iv.Hi.Value.String())
	} else {
		sb.WriteString("+inf")
	}
	if iv.Hi.Set && iv.Hi.Inclusive {
		sb.WriteString("]")
	} else {
		sb.WriteString(")")
	}
	return sb.String()
}

// ValueSet is the set of values a constant predicate accepts: an interval, or
// for != every value except a single point.
type ValueSet struct {
	Interval Interval
	// Hole means the set is everything except Interval, which is then a point.
	Hole bool
}

// Set returns the values p accepts. Column-operand predicates have no value set.
func (p Predicate) Set() (ValueSet, error) {
	v, err := p.Value()
	if err != nil {
		return ValueSet{}, err
	}
	switch p.Operator {
	case LT:
		return ValueSet{Interval: Interval{Hi: Exclusive(v)}}, nil
	case LTE:
		return ValueSet{Interval: Interval{Hi: Inclusive(v)}}, nil
	case GT:
		return ValueSet{Interval: Interval{Lo: Exclusive(v)}}, nil
	case GTE:
		return ValueSet{Interval: Interval{Lo: Inclusive(v)}}, nil
	case EQ:
		return ValueSet{Interval: Point(v)}, nil
	case NEQ:
		return ValueSet{Interval: Point(v), Hole: true}, nil
	}
	return ValueSet{}, fmt.Errorf("%w: %q", ErrUnknownOperator, p.Operator)
}

// SubsetOf reports whether every value in s is also in o.
func (s ValueSet) SubsetOf(o ValueSet) bool {
	switch {
	case !s.Hole && !o.Hole:
		return o.Interval.Contains(s.Interval)
	case !s.Hole && o.Hole:
		return s.Interval.Intersect(o.Interval).IsEmpty()
	case s.Hole && !o.Hole:
		return o.Interval.IsAll()
	default:
		return s.Interval.Contains(o.Interval) && o.Interval.Contains(s.Interval)
	}
}

// Intersects reports whether some value lies in both the set and iv.
func (s ValueSet) Intersects(iv Interval) bool {
	if iv.IsEmpty() {
		return false
	}
	if !s.Hole {
		return !s.Interval.Intersect(iv).IsEmpty()
	}
	// everything but one point: misses only when iv is exactly that point
	return !(s.Interval.Contains(iv) && iv.Contains(s.Interval))
}

// Covers reports whether every value in iv is in the set.
func (s ValueSet) Covers(iv Interval) bool {
	if !s.Hole {
		return s.Interval.Contains(iv)
	}
	return iv.Intersect(s.Interval).IsEmpty()
}

// relation bits for column-vs-column comparisons
const (
	relLess    = 1
	relEqual   = 2
	relGreater = 4
)

func relations(op Operator) int {
	switch op {
	case LT:
		return relLess
	case LTE:
		return relLess | relEqual
	case GT:
		return relGreater
	case GTE:
		return relGreater | relEqual
	case EQ:
		return relEqual
	case NEQ:
		return relLess | relGreater
	}
	return 0
}

// Implies reports whether every row accepted by h is also accepted by s.
// Predicates on different columns, or mixing constant and column operands,
// never imply one another. Pairs of ==/!= compare literal operands.
func Implies(h, s Predicate) (bool, error) {
	if h.Column != s.Column || h.IsCol != s.IsCol {
		return false, nil
	}
	if h.IsCol {
		if h.Operand != s.Operand {
			return false, nil
		}
		rh, rs := relations(h.Operator), relations(s.Operator)
		return rh&^rs == 0, nil
	}
	if h.Operator.IsEquality() && s.Operator.IsEquality() {
		same := h.Operand == s.Operand
		switch {
		case h.Operator == EQ && s.Operator == EQ:
			return same, nil
		case h.Operator == EQ && s.Operator == NEQ:
			return !same, nil
		case h.Operator == NEQ && s.Operator == NEQ:
			return same, nil
		default:
			return false, nil
		}
	}
	hs, err := h.Set()
	if err != nil {
		return false, fmt.Errorf("error in Set for %s: %w", h, err)
	}
	ss, err := s.Set()
	if err != nil {
		return false, fmt.Errorf("error in Set for %s: %w", s, err)
	}
	return hs.SubsetOf(ss), nil
}
