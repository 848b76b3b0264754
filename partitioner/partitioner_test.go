package partitioner

import (
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/danthegoodman1/sdcdb/colengine"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/table"
)

func amounts(n int) *table.Table {
	vals := make([]int64, n)
	for i := range vals {
		vals[i] = int64(i)
	}
	t, _ := table.New(table.NewIntColumn("amount", vals))
	return t
}

func withMasks(t *testing.T, tbl *table.Table, preds ...predicate.Predicate) []predicate.WithMask {
	e := colengine.New()
	out := make([]predicate.WithMask, len(preds))
	for i, p := range preds {
		m, err := e.Evaluate(tbl, p)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = predicate.WithMask{Predicate: p, Mask: m}
	}
	return out
}

func amount(op predicate.Operator, v int) predicate.Predicate {
	return predicate.Predicate{Column: "amount", Operator: op, Operand: strconv.Itoa(v), Type: table.Int}
}

// every row of every partition lies inside the partition's declared range
func checkRanges(t *testing.T, tbl *table.Table, parts []Partition) {
	col, _ := tbl.Column("amount")
	for i, p := range parts {
		r := p.Range()
		for _, row := range p.Mask.Indices() {
			v := col.Ints[row]
			ok, err := r.Admits(predicate.Value{Type: table.Int, I: v, F: float64(v)})
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatalf("partition %d %s holds row with amount %d", i, r, v)
			}
		}
	}
}

func TestPartitionCuts(t *testing.T) {
	tbl := amounts(30)
	preds := withMasks(t, tbl,
		amount(predicate.GTE, 20),
		amount(predicate.LT, 10),
		amount(predicate.EQ, 5),
		amount(predicate.LTE, 20),
	)
	// predicates on other columns are ignored, masks included
	preds = append(preds, predicate.WithMask{Predicate: predicate.Predicate{Column: "other", Operator: predicate.LT, Operand: "3", Type: table.Int}})

	parts, err := Split(colengine.New(), "amount", preds, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}
	expected := []struct {
		min    string
		minInc bool
		max    string
		maxInc bool
		rows   int64
	}{
		{"", false, "10", false, 10},
		{"10", true, "20", false, 10},
		{"20", true, "", false, 10},
	}
	for i, e := range expected {
		p := parts[i]
		if p.Min != e.min || p.MinInclusive != e.minInc || p.Max != e.max || p.MaxInclusive != e.maxInc || p.RowCount != e.rows {
			t.Fatalf("partition %d: got %s with %d rows", i, p.Range(), p.RowCount)
		}
	}
	checkRanges(t, tbl, parts)
}

func TestPartitionInclusiveCut(t *testing.T) {
	tbl := amounts(30)
	parts, err := Split(colengine.New(), "amount", withMasks(t, tbl, amount(predicate.LTE, 9), amount(predicate.GT, 19)), 30)
	if err != nil {
		t.Fatal(err)
	}
	if parts[1].Min != "9" || parts[1].MinInclusive || parts[1].Max != "19" || !parts[1].MaxInclusive {
		t.Fatalf("got %s", parts[1].Range())
	}
	if parts[2].Min != "19" || parts[2].MinInclusive {
		t.Fatalf("got %s", parts[2].Range())
	}
	checkRanges(t, tbl, parts)
}

func TestOnlyEqualities(t *testing.T) {
	tbl := amounts(10)
	parts, err := Split(colengine.New(), "amount", withMasks(t, tbl, amount(predicate.EQ, 3)), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 || parts[0].RowCount != 10 || !parts[0].Range().IsUnbounded() {
		t.Fatalf("expected one unbounded partition, got %+v", parts)
	}
}

func TestNoCandidates(t *testing.T) {
	tbl := amounts(10)
	_, err := Split(colengine.New(), "amount", nil, 10)
	if !errors.Is(err, ErrNoCandidatePredicates) {
		t.Fatalf("expected ErrNoCandidatePredicates, got %v", err)
	}
	colPred := predicate.Predicate{Column: "amount", Operator: predicate.LT, Operand: "amount", IsCol: true, Type: table.Int}
	_, err = Split(colengine.New(), "amount", withMasks(t, tbl, colPred), 10)
	if !errors.Is(err, ErrNoCandidatePredicates) {
		t.Fatalf("expected ErrNoCandidatePredicates, got %v", err)
	}
}

func TestRandomTotality(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	ops := []predicate.Operator{predicate.LT, predicate.LTE, predicate.GT, predicate.GTE, predicate.EQ, predicate.NEQ}
	tbl := amounts(500)
	for round := 0; round < 50; round++ {
		n := 1 + r.Intn(8)
		preds := make([]predicate.Predicate, n)
		for i := range preds {
			preds[i] = amount(ops[r.Intn(len(ops))], r.Intn(600)-50)
		}
		parts, err := Split(colengine.New(), "amount", withMasks(t, tbl, preds...), 500)
		if err != nil {
			t.Fatalf("round %d: %s", round, err)
		}
		// Partition already ran Validate, run it again on the returned value
		if err = Validate(colengine.New(), parts, 500); err != nil {
			t.Fatal(err)
		}
		checkRanges(t, tbl, parts)
	}
}
