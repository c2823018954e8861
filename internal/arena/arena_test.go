package arena

import "testing"

func TestNewBufferZeroValued(t *testing.T) {
	b := NewBuffer[int](5)
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}
	for i, v := range b.Slice() {
		if v != 0 {
			t.Fatalf("element %d = %d, want 0", i, v)
		}
	}
}

func TestNewFilled(t *testing.T) {
	b := NewFilled(4, uint32(0xFFFFFFFF))
	for i, v := range b.Slice() {
		if v != 0xFFFFFFFF {
			t.Fatalf("element %d = %x, want 0xFFFFFFFF", i, v)
		}
	}
}

func TestGrowPreservesExistingAndFillsNew(t *testing.T) {
	b := NewBuffer[int](2)
	b.Slice()[0] = 10
	b.Slice()[1] = 20
	b.Grow(5, -1)
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}
	want := []int{10, 20, -1, -1, -1}
	for i, w := range want {
		if b.Slice()[i] != w {
			t.Fatalf("element %d = %d, want %d", i, b.Slice()[i], w)
		}
	}
}

func TestGrowIsNoOpWhenNotLarger(t *testing.T) {
	b := NewBuffer[int](3)
	b.Slice()[0] = 1
	b.Grow(2, 99)
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (no shrink via Grow)", b.Len())
	}
	if b.Slice()[0] != 1 {
		t.Fatalf("existing data clobbered")
	}
}

func TestShrinkTruncatesAndCopies(t *testing.T) {
	b := NewBuffer[int](5)
	for i := range b.Slice() {
		b.Slice()[i] = i
	}
	s := Shrink(b, 3)
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	for i := 0; i < 3; i++ {
		if s.Slice()[i] != i {
			t.Fatalf("element %d = %d, want %d", i, s.Slice()[i], i)
		}
	}
}

func TestShrinkToLargerThanOriginalZeroPads(t *testing.T) {
	b := NewBuffer[int](2)
	b.Slice()[0], b.Slice()[1] = 7, 8
	s := Shrink(b, 4)
	if s.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", s.Len())
	}
	if s.Slice()[0] != 7 || s.Slice()[1] != 8 || s.Slice()[2] != 0 || s.Slice()[3] != 0 {
		t.Fatalf("unexpected contents: %v", s.Slice())
	}
}
