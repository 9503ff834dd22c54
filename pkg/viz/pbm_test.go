package viz

import (
	"errors"
	"image/color"
	"testing"
)

func TestDecodePBM(t *testing.T) {
	img, err := decodePBM([]string{"# from the camera", "4 2", "1 0 0 1", "0110"})
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Fatalf("bounds = %v", b)
	}
	want := [][]uint8{{0, 255, 255, 0}, {255, 0, 0, 255}}
	for y, row := range want {
		for x, v := range row {
			if got := img.GrayAt(x, y); got != (color.Gray{Y: v}) {
				t.Errorf("pixel (%d,%d) = %v, want %d", x, y, got, v)
			}
		}
	}
}

func TestDecodePBMShort(t *testing.T) {
	img, err := decodePBM([]string{"3 3", "111"})
	if !errors.Is(err, errShortBitmap) {
		t.Fatalf("err = %v, want errShortBitmap", err)
	}
	if img.GrayAt(2, 0).Y != 0 || img.GrayAt(0, 2).Y != 255 {
		t.Error("partial bitmap not rendered")
	}
}

func TestDecodePBMInvalid(t *testing.T) {
	for _, lines := range [][]string{
		nil,
		{"-1 4"},
		{"2 2", "0x01"},
		{"4294967296 4294967296", "0101"},
		{"100000 100000", "0101"},
		{"16777217 1", "1"},
	} {
		if _, err := decodePBM(lines); err == nil || errors.Is(err, errShortBitmap) {
			t.Errorf("decodePBM(%q) = %v, want error", lines, err)
		}
	}
}
