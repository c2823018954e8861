package prng

import "testing"

func TestSameSeedProducesSameSequence(t *testing.T) {
	a := NewXoshiro128(123)
	b := NewXoshiro128(123)
	for i := 0; i < 50; i++ {
		av, bv := a.Uint32(), b.Uint32()
		if av != bv {
			t.Fatalf("draw %d diverged: %d != %d", i, av, bv)
		}
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := NewXoshiro128(1)
	b := NewXoshiro128(2)
	same := true
	for i := 0; i < 10; i++ {
		if a.Uint32() != b.Uint32() {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("distinct seeds produced identical sequences")
	}
}

func TestFloat64NeverZeroAndInRange(t *testing.T) {
	x := NewXoshiro128(7)
	for i := 0; i < 10000; i++ {
		v := x.Float64()
		if v <= 0 || v >= 1 {
			t.Fatalf("Float64() = %f, want in (0, 1)", v)
		}
	}
}
