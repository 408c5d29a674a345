package strategy

import "testing"

func TestWindowMeansMatchNaive(t *testing.T) {
	prices := []int64{5, 9, 1, 14, 3, 3, 8, 20, 7, 2, 11}
	w := newWindow(3, 5)
	for i, p := range prices {
		w.push(p)
		if !w.full() {
			if i >= 4 {
				t.Fatalf("not full after %d pushes", i+1)
			}
			continue
		}
		var s, l int64
		for _, x := range prices[i-2 : i+1] {
			s += x
		}
		for _, x := range prices[i-4 : i+1] {
			l += x
		}
		gotS, gotL := w.means()
		if gotS != s/3 || gotL != l/5 {
			t.Errorf("push %d: means = %d/%d, want %d/%d", i, gotS, gotL, s/3, l/5)
		}
		if w.at(0) != p {
			t.Errorf("push %d: at(0) = %d", i, w.at(0))
		}
	}
}
