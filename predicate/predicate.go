package predicate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/table"
)

type (
	Operator string

	// Predicate is a single comparison of a column against a constant or another column.
	Predicate struct {
		Column   string         `json:"column"`
		Operator Operator       `json:"operator"`
		Operand  string         `json:"constantOrColumn"`
		IsCol    bool           `json:"isCol"`
		Type     table.DataType `json:"dataType"`
	}

	// WithMask pairs a predicate with its evaluation over the primary dataset.
	WithMask struct {
		Predicate
		Mask *mask.Mask
	}
)

const (
	LT  Operator = "<"
	LTE Operator = "<="
	GT  Operator = ">"
	GTE Operator = ">="
	EQ  Operator = "=="
	NEQ Operator = "!="
)

var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrBadOperand      = errors.New("bad operand")
	ErrEmptyColumn     = errors.New("empty column name")
)

func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case "<":
		return LT, nil
	case "<=":
		return LTE, nil
	case ">":
		return GT, nil
	case ">=":
		return GTE, nil
	case "==", "=":
		return EQ, nil
	case "!=", "<>":
		return NEQ, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperator, s)
	}
}

// Negate returns the operator accepting exactly the rows o rejects.
func (o Operator) Negate() Operator {
	switch o {
	case LT:
		return GTE
	case LTE:
		return GT
	case GT:
		return LTE
	case GTE:
		return LT
	case EQ:
		return NEQ
	case NEQ:
		return EQ
	}
	return o
}

// IsRange reports whether o is one of < <= > >=.
func (o Operator) IsRange() bool {
	return o == LT || o == LTE || o == GT || o == GTE
}

func (o Operator) IsEquality() bool {
	return o == EQ || o == NEQ
}

// New validates and builds a predicate. Constant operands must parse as typ.
func New(column string, op Operator, operand string, isCol bool, typ table.DataType) (Predicate, error) {
	p := Predicate{Column: column, Operator: op, Operand: strings.TrimSpace(operand), IsCol: isCol, Type: typ}
	if err := p.Validate(); err != nil {
		return Predicate{}, err
	}
	return p, nil
}

func (p Predicate) Validate() error {
	if p.Column == "" {
		return ErrEmptyColumn
	}
	if _, err := ParseOperator(string(p.Operator)); err != nil {
		return err
	}
	if p.IsCol {
		if p.Operand == "" {
			return fmt.Errorf("%w: empty column operand", ErrBadOperand)
		}
		return nil
	}
	if _, err := p.Value(); err != nil {
		return err
	}
	return nil
}

// Equal is structural equality: the data type is deliberately not part of it,
// it is re-derived from the live schema.
func (p Predicate) Equal(o Predicate) bool {
	return p.Column == o.Column && p.Operator == o.Operator && p.IsCol == o.IsCol && p.Operand == o.Operand
}

// Key is a stable string identity consistent with Equal.
func (p Predicate) Key() string {
	kind := "c"
	if p.IsCol {
		kind = "col"
	}
	return p.Column + "\x00" + string(p.Operator) + "\x00" + kind + "\x00" + p.Operand
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %s", p.Column, p.Operator, p.Operand)
}

// Columns returns every column the predicate reads.
func (p Predicate) Columns() []string {
	if p.IsCol {
		return []string{p.Column, p.Operand}
	}
	return []string{p.Column}
}

// Negate returns the complementary predicate.
func (p Predicate) Negate() Predicate {
	n := p
	n.Operator = p.Operator.Negate()
	return n
}

// Value parses the constant operand according to the predicate's type.
func (p Predicate) Value() (Value, error) {
	if p.IsCol {
		return Value{}, fmt.Errorf("%w: %s compares against column %s", ErrBadOperand, p.Column, p.Operand)
	}
	return ParseValue(p.Operand, p.Type)
}

// Dedupe drops structurally equal predicates, keeping first-seen order.
func Dedupe(preds []Predicate) []Predicate {
	seen := make(map[string]struct{}, len(preds))
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// QueryID hashes a query's predicates and projections. Both are treated as
// sets, so the order filters were applied in does not change the id.
func QueryID(preds []Predicate, projections []string) string {
	keys := make([]string, 0, len(preds))
	for _, p := range Dedupe(preds) {
		keys = append(keys, p.Key())
	}
	sort.Strings(keys)

	proj := append([]string(nil), projections...)
	sort.Strings(proj)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte{0x1e})
	for i, c := range proj {
		if i > 0 && proj[i-1] == c {
			continue
		}
		h.Write([]byte(c))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
