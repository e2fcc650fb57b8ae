package detection

import (
	"math"
	"testing"
)

func TestBBoxIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b BBox
		want float64
	}{
		{
			name: "identical boxes",
			a:    BBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2},
			b:    BBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2},
			want: 1.0,
		},
		{
			name: "disjoint boxes",
			a:    BBox{X: 0.0, Y: 0.0, W: 0.1, H: 0.1},
			b:    BBox{X: 0.5, Y: 0.5, W: 0.1, H: 0.1},
			want: 0.0,
		},
		{
			name: "touching edges",
			a:    BBox{X: 0.0, Y: 0.0, W: 0.1, H: 0.1},
			b:    BBox{X: 0.1, Y: 0.0, W: 0.1, H: 0.1},
			want: 0.0,
		},
		{
			name: "half horizontal overlap",
			a:    BBox{X: 0.0, Y: 0.0, W: 0.2, H: 0.2},
			b:    BBox{X: 0.1, Y: 0.0, W: 0.2, H: 0.2},
			// intersection 0.1*0.2, union 2*0.04 - 0.02
			want: 0.02 / 0.06,
		},
		{
			name: "contained box",
			a:    BBox{X: 0.0, Y: 0.0, W: 0.4, H: 0.4},
			b:    BBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2},
			want: 0.04 / 0.16,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.IoU(tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("IoU = %v, want %v", got, tt.want)
			}
			if sym := tt.b.IoU(tt.a); math.Abs(sym-got) > 1e-9 {
				t.Fatalf("IoU not symmetric: %v vs %v", got, sym)
			}
		})
	}
}

func TestBBoxArea(t *testing.T) {
	if got := (BBox{W: 0.5, H: 0.4}).Area(); math.Abs(got-0.2) > 1e-9 {
		t.Fatalf("Area = %v, want 0.2", got)
	}
	if got := (BBox{W: -0.1, H: 0.4}).Area(); got != 0 {
		t.Fatalf("Area of degenerate box = %v, want 0", got)
	}
}

func TestIsWeaponLabel(t *testing.T) {
	weapons := []string{"gun", "Handgun", "long_rifle", "KNIFE", "pocket blade", "firearm-9mm"}
	for _, l := range weapons {
		if !IsWeaponLabel(l) {
			t.Errorf("IsWeaponLabel(%q) = false, want true", l)
		}
	}
	benign := []string{"person", "car", "cell phone", "backpack", ""}
	for _, l := range benign {
		if IsWeaponLabel(l) {
			t.Errorf("IsWeaponLabel(%q) = true, want false", l)
		}
	}
}
