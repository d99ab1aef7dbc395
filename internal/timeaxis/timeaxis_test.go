package timeaxis

import (
	"math"
	"testing"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %v, want %v (tol=%v)", label, got, want, tol)
	}
}

func TestNewBounds_Validation(t *testing.T) {
	cases := []struct {
		name                 string
		start, end, interval float64
		wantErr              bool
	}{
		{"valid", 0, 10, 1, false},
		{"zero span", 5, 5, 1, false},
		{"zero interval", 0, 10, 0, true},
		{"negative interval", 0, 10, -1, true},
		{"end before start", 10, 0, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBounds(tc.start, tc.end, tc.interval)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewBounds(%v,%v,%v): err=%v, wantErr=%v",
					tc.start, tc.end, tc.interval, err, tc.wantErr)
			}
			if tc.wantErr {
				var be *ErrBounds
				if !errorsAs(err, &be) {
					t.Fatalf("error %v is not *ErrBounds", err)
				}
			}
		})
	}
}

// errorsAs avoids importing errors just for one assertion helper.
func errorsAs(err error, target **ErrBounds) bool {
	be, ok := err.(*ErrBounds)
	if ok {
		*target = be
	}
	return ok
}

func TestAlignStart(t *testing.T) {
	cases := []struct {
		start, interval, want float64
	}{
		{0.3, 1.0, 0.0},
		{10.2, 0.5, 10.0},
		{12.0, 0.5, 12.0}, // already aligned — unchanged
		{0, 1, 0},
		{-0.3, 1.0, -1.0}, // negative remainder wraps down
		{7.5, 2.5, 7.5},
	}
	for _, tc := range cases {
		assertClose(t, "AlignStart", AlignStart(tc.start, tc.interval), tc.want, 1e-9)
	}
}

func TestGenerate_SpecExamples(t *testing.T) {
	b, err := NewBounds(0.3, 3.2, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	got := Generate(b)
	want := []float64{1.0, 2.0, 3.0}
	if len(got) != len(want) {
		t.Fatalf("Generate: got %v, want %v", got, want)
	}
	for i := range want {
		assertClose(t, "element", got[i], want[i], 1e-9)
	}

	b2, _ := NewBounds(10.2, 12.4, 0.5)
	got2 := Generate(b2)
	want2 := []float64{10.5, 11.0, 11.5, 12.0}
	if len(got2) != len(want2) {
		t.Fatalf("Generate: got %v, want %v", got2, want2)
	}
	for i := range want2 {
		assertClose(t, "element", got2[i], want2[i], 1e-9)
	}
}

func TestGenerate_AlignedStartIncluded(t *testing.T) {
	b, _ := NewBounds(10.0, 12.0, 0.5)
	got := Generate(b)
	if len(got) != 5 {
		t.Fatalf("got %v, want 5 elements 10.0..12.0", got)
	}
	assertClose(t, "first", got[0], 10.0, 1e-9)
	assertClose(t, "last", got[4], 12.0, 1e-9)
}

func TestGenerate_Properties(t *testing.T) {
	cases := []Bounds{
		{Start: 0.3, End: 100.7, Interval: 1.0},
		{Start: 1000.05, End: 1009.95, Interval: 0.1},
		{Start: -5.5, End: 5.5, Interval: 0.25},
		{Start: 3.0, End: 3.0, Interval: 1.5},
	}
	for _, b := range cases {
		seq := Generate(b)
		for i, v := range seq {
			// Every element within 1e-9 of a multiple of interval.
			rem := math.Mod(v, b.Interval)
			if rem < 0 {
				rem += b.Interval
			}
			if rem > 1e-9 && b.Interval-rem > 1e-9 {
				t.Errorf("bounds %+v: element %v is not interval-aligned (rem=%v)", b, v, rem)
			}
			// Strictly increasing.
			if i > 0 && v <= seq[i-1] {
				t.Errorf("bounds %+v: sequence not strictly increasing at %d", b, i)
			}
			if v > b.End+1e-9 {
				t.Errorf("bounds %+v: element %v past end", b, v)
			}
		}
		if len(seq) > 0 {
			if seq[0] > b.Start+b.Interval || seq[0] <= b.Start-b.Interval {
				t.Errorf("bounds %+v: first element %v outside (start-interval, start+interval]", b, seq[0])
			}
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	b, _ := NewBounds(17.3, 9917.3, 0.7)
	a := Generate(b)
	c := Generate(b)
	if len(a) != len(c) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(c))
	}
	for i := range a {
		if a[i] != c[i] {
			// Bit-identical, not merely close.
			t.Fatalf("element %d differs: %v vs %v", i, a[i], c[i])
		}
	}
}

func TestNext(t *testing.T) {
	assertClose(t, "Next mid-bucket", Next(10.2, 0.5), 10.5, 1e-9)
	assertClose(t, "Next on boundary", Next(10.5, 0.5), 11.0, 1e-9)
	assertClose(t, "Next negative", Next(-0.2, 1.0), 0.0, 1e-9)
}
