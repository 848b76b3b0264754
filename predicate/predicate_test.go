package predicate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/sdcdb/table"
)

func c(col string, op Operator, operand string) Predicate {
	return Predicate{Column: col, Operator: op, Operand: operand, Type: table.Int}
}

func TestQueryIDOrderIndependent(t *testing.T) {
	a := QueryID([]Predicate{c("a", GT, "1"), c("b", LT, "4")}, []string{"x", "y"})
	b := QueryID([]Predicate{c("b", LT, "4"), c("a", GT, "1"), c("a", GT, "1")}, []string{"y", "x", "x"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	other := QueryID([]Predicate{c("a", GT, "2"), c("b", LT, "4")}, []string{"x", "y"})
	assert.NotEqual(t, a, other)
}

func TestEqualIgnoresType(t *testing.T) {
	p := c("a", GT, "1")
	q := p
	q.Type = table.Double
	assert.True(t, p.Equal(q))
	assert.Equal(t, p.Key(), q.Key())

	q.IsCol = true
	assert.False(t, p.Equal(q))
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("=")
	require.NoError(t, err)
	assert.Equal(t, EQ, op)
	op, err = ParseOperator("<>")
	require.NoError(t, err)
	assert.Equal(t, NEQ, op)
	_, err = ParseOperator("~")
	assert.True(t, errors.Is(err, ErrUnknownOperator))
}

func TestNewRejectsBadOperand(t *testing.T) {
	_, err := New("a", GT, "1.5", false, table.Int)
	assert.True(t, errors.Is(err, ErrBadOperand))
	_, err = New("a", GT, "1.5", false, table.Double)
	assert.NoError(t, err)
	_, err = New("a", GT, "b", true, table.Int)
	assert.NoError(t, err)
}

func TestImplies(t *testing.T) {
	tests := []struct {
		name string
		h, s Predicate
		want bool
	}{
		{"tighter upper", c("a", LT, "5"), c("a", LT, "10"), true},
		{"looser upper", c("a", LT, "10"), c("a", LT, "5"), false},
		{"int strictness", c("a", LT, "5"), c("a", LTE, "4"), true},
		{"int strictness reverse", c("a", LTE, "4"), c("a", LT, "5"), true},
		{"lower inside", c("a", GT, "20"), c("a", GTE, "20"), true},
		{"opposite sides", c("a", LT, "5"), c("a", GT, "20"), false},
		{"point in range", c("a", EQ, "7"), c("a", LT, "10"), true},
		{"point outside range", c("a", EQ, "17"), c("a", LT, "10"), false},
		{"range outside hole", c("a", LT, "5"), c("a", NEQ, "7"), true},
		{"range over hole", c("a", LT, "10"), c("a", NEQ, "7"), false},
		{"hole never in range", c("a", NEQ, "7"), c("a", LT, "10"), false},
		{"eq eq same", c("a", EQ, "7"), c("a", EQ, "7"), true},
		{"eq neq other", c("a", EQ, "7"), c("a", NEQ, "8"), true},
		{"neq eq", c("a", NEQ, "7"), c("a", EQ, "8"), false},
		{"different column", c("a", LT, "5"), c("b", LT, "10"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Implies(tt.h, tt.s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImpliesColumnOperands(t *testing.T) {
	col := func(op Operator) Predicate {
		return Predicate{Column: "a", Operator: op, Operand: "b", IsCol: true, Type: table.Int}
	}
	ok, err := Implies(col(LT), col(LTE))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = Implies(col(LTE), col(LT))
	assert.False(t, ok)
	ok, _ = Implies(col(GT), col(NEQ))
	assert.True(t, ok)
	ok, _ = Implies(col(LT), c("a", LT, "5"))
	assert.False(t, ok)
}

func TestImpliesBadOperand(t *testing.T) {
	_, err := Implies(c("a", LT, "x"), c("a", LT, "5"))
	assert.True(t, errors.Is(err, ErrBadOperand))
}

func TestIntervalDoubleBoundaries(t *testing.T) {
	v := func(f float64) Value { return Value{Type: table.Double, F: f} }
	lt := Interval{Hi: Exclusive(v(10))}
	lte := Interval{Hi: Inclusive(v(10))}
	assert.True(t, lte.Contains(lt))
	assert.False(t, lt.Contains(lte))

	block := Interval{Lo: Exclusive(v(10)), Hi: Inclusive(v(20))}
	assert.True(t, block.Intersect(lte).IsEmpty())
	assert.False(t, block.Intersect(Interval{Lo: Exclusive(v(10))}).IsEmpty())
}

func TestValueSetIntersects(t *testing.T) {
	p := c("a", NEQ, "10")
	s, err := p.Set()
	require.NoError(t, err)
	ten := Value{Type: table.Int, I: 10, F: 10}
	assert.False(t, s.Intersects(Point(ten)))
	assert.True(t, s.Intersects(Interval{Lo: Inclusive(ten)}))
	// (9, 11) over ints is exactly {10}
	assert.False(t, s.Intersects(Interval{Lo: Exclusive(intValue(9)), Hi: Exclusive(intValue(11))}))
}
