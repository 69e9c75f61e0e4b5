package lod

import (
	"reflect"
	"testing"
)

func TestPlanLevelsSmallDataset(t *testing.T) {
	if got := PlanLevels(20000, 500); !reflect.DeepEqual(got, []uint64{500}) {
		t.Errorf("PlanLevels(20000, 500) = %v, want [500]", got)
	}
	if got := PlanLevels(100, 100); !reflect.DeepEqual(got, []uint64{100}) {
		t.Errorf("PlanLevels(100, 100) = %v, want [100]", got)
	}
}

func TestPlanLevelsZeroMinSize(t *testing.T) {
	// minSize 0 is clamped to 1 instead of feeding log10(0) into the ladder.
	if got := PlanLevels(0, 1000); !reflect.DeepEqual(got, []uint64{1, 10, 100}) {
		t.Errorf("PlanLevels(0, 1000) = %v, want [1 10 100]", got)
	}
	if got := PlanLevels(0, 1); !reflect.DeepEqual(got, []uint64{1}) {
		t.Errorf("PlanLevels(0, 1) = %v, want [1]", got)
	}
}

func TestPlanLevelsSameDecade(t *testing.T) {
	// Total within 10x of minSize: a single level at minSize.
	if got := PlanLevels(1000, 5000); !reflect.DeepEqual(got, []uint64{1000}) {
		t.Errorf("PlanLevels(1000, 5000) = %v, want [1000]", got)
	}
}

func TestPlanLevelsDecadeLadder(t *testing.T) {
	got := PlanLevels(20000, 1000000)
	want := []uint64{20000, 200000}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PlanLevels(20000, 1e6) = %v, want %v", got, want)
	}

	got = PlanLevels(300, 1000000)
	want = []uint64{300, 3000, 30000, 300000}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PlanLevels(300, 1e6) = %v, want %v", got, want)
	}
}

func TestPlanLevelsProperties(t *testing.T) {
	cases := []struct{ minSize, total uint64 }{
		{1, 2},
		{10, 11},
		{500, 1000000000},
		{20000, 20001},
		{12345, 98765432},
		{999, 1000},
	}
	for _, c := range cases {
		sizes := PlanLevels(c.minSize, c.total)
		if len(sizes) == 0 {
			t.Errorf("PlanLevels(%d, %d) returned empty ladder", c.minSize, c.total)
			continue
		}
		for i, s := range sizes {
			if s >= c.total {
				t.Errorf("PlanLevels(%d, %d)[%d] = %d, not below total", c.minSize, c.total, i, s)
			}
			if i > 0 && sizes[i-1] >= s {
				t.Errorf("PlanLevels(%d, %d) not strictly ascending: %v", c.minSize, c.total, sizes)
			}
		}
		if c.total > c.minSize && len(sizes) > 1 && sizes[0] != c.minSize {
			t.Errorf("PlanLevels(%d, %d) smallest = %d, want exactly minSize", c.minSize, c.total, sizes[0])
		}
	}
}
