package overlay

import (
	"image"
	"testing"
)

func coverage(img *image.Gray, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.GrayAt(x, y).Y > 0 {
				n++
			}
		}
	}
	return n
}

func TestRenderDrawsEachLine(t *testing.T) {
	text, err := NewText(DefaultWidth, DefaultHeight, DefaultSize)
	if err != nil {
		t.Fatal(err)
	}
	defer text.Close()

	img := text.Render([]string{"camera stats:", "pos x: 1.00"})
	if img.Rect != text.Bounds() {
		t.Fatalf("bounds = %v", img.Rect)
	}

	first := image.Rect(0, 0, DefaultWidth, margin+text.lineHeight)
	second := image.Rect(0, margin+text.lineHeight, DefaultWidth, margin+2*text.lineHeight)
	third := image.Rect(0, margin+3*text.lineHeight, DefaultWidth, DefaultHeight)
	if coverage(img, first) == 0 {
		t.Error("first line is empty")
	}
	if coverage(img, second) == 0 {
		t.Error("second line is empty")
	}
	if n := coverage(img, third); n != 0 {
		t.Errorf("%d pixels drawn below the last line", n)
	}
}

func TestRenderClearsPreviousText(t *testing.T) {
	text, err := NewText(64, 32, DefaultSize)
	if err != nil {
		t.Fatal(err)
	}
	defer text.Close()

	text.Render([]string{"MMMM"})
	img := text.Render(nil)
	if n := coverage(img, img.Rect); n != 0 {
		t.Fatalf("%d pixels left over", n)
	}
}

func TestRenderDropsOverflowingLines(t *testing.T) {
	text, err := NewText(64, 32, DefaultSize)
	if err != nil {
		t.Fatal(err)
	}
	defer text.Close()

	lines := make([]string, text.MaxLines()+5)
	for i := range lines {
		lines[i] = "W"
	}
	// Must not draw outside the image or panic.
	text.Render(lines)
}

func TestNewTextRejectsEmptyImage(t *testing.T) {
	if _, err := NewText(0, 10, DefaultSize); err == nil {
		t.Fatal("expected an error")
	}
}
