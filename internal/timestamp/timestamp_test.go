package timestamp

import (
	"testing"
	"time"
)

func TestTimestamp_StringParse(t *testing.T) {
	tests := []struct {
		name string
		ts   Timestamp
		want string
	}{
		{"simple", Timestamp{Time: 100, ID: "node-a"}, "100/node-a"},
		{"large", Timestamp{Time: 1604593902226942997, ID: "b1"}, "1604593902226942997/b1"},
		{"empty id", Timestamp{Time: 7, ID: ""}, "7/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.ts.String()
			if s != tt.want {
				t.Errorf("String() = %q, want %q", s, tt.want)
			}

			parsed, err := Parse(s)
			if err != nil {
				t.Fatalf("Parse(%q): %v", s, err)
			}
			if parsed != tt.ts {
				t.Errorf("Parse(%q) = %v, want %v", s, parsed, tt.ts)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "100", "abc/node", "-5/node"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestTimestamp_Ordering(t *testing.T) {
	a := Timestamp{Time: 100, ID: "a"}
	b := Timestamp{Time: 200, ID: "a"}
	c := Timestamp{Time: 200, ID: "b"}

	if !a.Before(b) {
		t.Error("100 should order before 200")
	}
	if b.Before(a) {
		t.Error("200 should not order before 100")
	}
	if !b.Before(c) {
		t.Error("equal wall clocks should break ties on node id")
	}
	if b.Compare(b) != 0 {
		t.Error("a timestamp should compare equal to itself")
	}
	if !c.After(a) {
		t.Error("200/b should order after 100/a")
	}
}

func TestTimestamp_PhysicalTime(t *testing.T) {
	ts := Timestamp{Time: 1604593902226942997, ID: "n"}
	want := time.Unix(0, 1604593902226942997).UTC()

	if !ts.PhysicalTime().Equal(want) {
		t.Errorf("PhysicalTime() = %v, want %v", ts.PhysicalTime(), want)
	}
	if ts.Nanos() != 1604593902226942997 {
		t.Errorf("Nanos() = %d", ts.Nanos())
	}
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock("node-a")

	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		if !prev.Before(next) {
			t.Fatalf("clock went backwards: %v then %v", prev, next)
		}
		if next.ID != "node-a" {
			t.Fatalf("unexpected node id %q", next.ID)
		}
		prev = next
	}
}
