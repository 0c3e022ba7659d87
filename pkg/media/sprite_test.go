// Copyright 2024-2026 Aiku AI

package media

import (
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// frameColor returns a distinct web-safe color for frame index i so
// quantization preserves it exactly and playback order is observable.
func frameColor(i int) color.RGBA {
	return color.RGBA{
		R: uint8((i % 6) * 51),
		G: uint8(((i / 6) % 6) * 51),
		B: 0x33,
		A: 0xFF,
	}
}

// writeSheet renders a sprite sheet PNG where every frame is filled with
// frameColor(index) in row-major order and returns its path.
func writeSheet(t *testing.T, spec SpriteSheetSpec) string {
	t.Helper()
	sheet := image.NewRGBA(image.Rect(0, 0, spec.FramesPerRow*spec.FrameWidth, spec.FramesPerColumn*spec.FrameHeight))
	idx := 0
	for row := 0; row < spec.FramesPerColumn; row++ {
		for col := 0; col < spec.FramesPerRow; col++ {
			c := frameColor(idx)
			for y := row * spec.FrameHeight; y < (row+1)*spec.FrameHeight; y++ {
				for x := col * spec.FrameWidth; x < (col+1)*spec.FrameWidth; x++ {
					sheet.SetRGBA(x, y, c)
				}
			}
			idx++
		}
	}

	path := filepath.Join(t.TempDir(), "sheet.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create sheet file: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, sheet); err != nil {
		t.Fatalf("failed to encode sheet: %v", err)
	}
	return path
}

func decodeGIF(t *testing.T, path string) *gif.GIF {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open output GIF: %v", err)
	}
	defer f.Close()
	out, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatalf("failed to decode output GIF: %v", err)
	}
	return out
}

func TestReconstructGIFRowMajorOrder(t *testing.T) {
	t.Parallel()
	spec := SpriteSheetSpec{
		FramesPerRow:    4,
		FramesPerColumn: 2,
		FrameWidth:      16,
		FrameHeight:     12,
		FrameRate:       8,
	}
	sheetPath := writeSheet(t, spec)

	outPath, err := ReconstructGIF(sheetPath, spec)
	if err != nil {
		t.Fatalf("ReconstructGIF: %v", err)
	}
	defer os.Remove(outPath)
	out := decodeGIF(t, outPath)

	if got, want := len(out.Image), spec.FrameCount(); got != want {
		t.Fatalf("frame count: got %d, want %d", got, want)
	}
	if out.LoopCount != 0 {
		t.Errorf("loop count: got %d, want 0 (loop forever)", out.LoopCount)
	}

	wantDelay := spec.FrameDurationMS() / 10
	totalDelay := 0
	for i, frame := range out.Image {
		if got, want := frame.Bounds().Dx(), spec.FrameWidth; got != want {
			t.Errorf("frame %d width: got %d, want %d", i, got, want)
		}
		if got, want := frame.Bounds().Dy(), spec.FrameHeight; got != want {
			t.Errorf("frame %d height: got %d, want %d", i, got, want)
		}
		got := frame.At(spec.FrameWidth/2, spec.FrameHeight/2)
		r, g, b, _ := got.RGBA()
		wr, wg, wb, _ := frameColor(i).RGBA()
		if r != wr || g != wg || b != wb {
			t.Errorf("frame %d is out of order: got color %v, want %v", i, got, frameColor(i))
		}
		if out.Delay[i] != wantDelay {
			t.Errorf("frame %d delay: got %d, want %d", i, out.Delay[i], wantDelay)
		}
		totalDelay += out.Delay[i]
	}

	if want := spec.FrameCount() * wantDelay; totalDelay != want {
		t.Errorf("total duration: got %d cs, want %d cs", totalDelay, want)
	}
}

func TestReconstructGIFSingleFrame(t *testing.T) {
	t.Parallel()
	spec := SpriteSheetSpec{
		FramesPerRow:    1,
		FramesPerColumn: 1,
		FrameWidth:      8,
		FrameHeight:     8,
		FrameRate:       10,
	}
	sheetPath := writeSheet(t, spec)

	outPath, err := ReconstructGIF(sheetPath, spec)
	if err != nil {
		t.Fatalf("ReconstructGIF on 1x1 sheet: %v", err)
	}
	defer os.Remove(outPath)
	out := decodeGIF(t, outPath)

	if got := len(out.Image); got != 1 {
		t.Errorf("frame count: got %d, want 1", got)
	}
}

func TestReconstructGIFInvalidSpec(t *testing.T) {
	t.Parallel()
	valid := SpriteSheetSpec{FramesPerRow: 2, FramesPerColumn: 2, FrameWidth: 4, FrameHeight: 4, FrameRate: 5}
	sheetPath := writeSheet(t, valid)

	tests := []struct {
		name   string
		mutate func(*SpriteSheetSpec)
	}{
		{"zero frame rate", func(s *SpriteSheetSpec) { s.FrameRate = 0 }},
		{"negative frame rate", func(s *SpriteSheetSpec) { s.FrameRate = -3 }},
		{"zero rows", func(s *SpriteSheetSpec) { s.FramesPerColumn = 0 }},
		{"zero columns", func(s *SpriteSheetSpec) { s.FramesPerRow = 0 }},
		{"zero frame width", func(s *SpriteSheetSpec) { s.FrameWidth = 0 }},
		{"zero frame height", func(s *SpriteSheetSpec) { s.FrameHeight = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := valid
			tt.mutate(&spec)
			_, err := ReconstructGIF(sheetPath, spec)
			if !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("got error %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestReconstructGIFTruncatedSheet(t *testing.T) {
	t.Parallel()
	spec := SpriteSheetSpec{FramesPerRow: 2, FramesPerColumn: 2, FrameWidth: 8, FrameHeight: 8, FrameRate: 5}
	sheetPath := writeSheet(t, spec)

	// Claim a bigger grid than the sheet actually contains.
	spec.FramesPerRow = 5
	_, err := ReconstructGIF(sheetPath, spec)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("got error %v, want ErrDecode", err)
	}
}

func TestReconstructGIFNotAnImage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "garbage.png")
	if err := os.WriteFile(path, []byte("this is not an image"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	spec := SpriteSheetSpec{FramesPerRow: 1, FramesPerColumn: 1, FrameWidth: 1, FrameHeight: 1, FrameRate: 1}
	_, err := ReconstructGIF(path, spec)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("got error %v, want ErrDecode", err)
	}
}

func TestReconstructGIFMissingFile(t *testing.T) {
	t.Parallel()
	spec := SpriteSheetSpec{FramesPerRow: 1, FramesPerColumn: 1, FrameWidth: 1, FrameHeight: 1, FrameRate: 1}
	_, err := ReconstructGIF(filepath.Join(t.TempDir(), "nope.png"), spec)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("got error %v, want ErrDecode", err)
	}
}
