// Copyright 2024-2026 Aiku AI

// Package media reconstructs sprite-sheet encoded animated stickers into
// portable animated images. Some chat platforms ship animated stickers as a
// single still image containing every frame in a grid; viewers on the other
// side of the bridge cannot play those, so the frames are cut apart and
// reassembled into a looping GIF before relay.
package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	// ErrInvalidSpec is returned when the sprite-sheet grid or timing
	// parameters are unusable.
	ErrInvalidSpec = errors.New("invalid sprite sheet spec")
	// ErrDecode is returned when the sprite-sheet image is malformed or
	// smaller than the grid the spec describes.
	ErrDecode = errors.New("failed to decode sprite sheet")
)

// SpriteSheetSpec describes the frame grid and timing of a sprite sheet.
type SpriteSheetSpec struct {
	FramesPerRow    int `json:"frames_per_row"`
	FramesPerColumn int `json:"frames_per_column"`
	FrameWidth      int `json:"frame_width"`
	FrameHeight     int `json:"frame_height"`
	FrameRate       int `json:"frame_rate_fps"`
}

// FrameCount returns the total number of frames in the sheet.
func (s SpriteSheetSpec) FrameCount() int {
	return s.FramesPerRow * s.FramesPerColumn
}

// FrameDurationMS returns the display duration of one frame in milliseconds.
func (s SpriteSheetSpec) FrameDurationMS() int {
	return 1000 / s.FrameRate
}

// Validate checks the spec before any image work happens.
func (s SpriteSheetSpec) Validate() error {
	switch {
	case s.FramesPerRow < 1 || s.FramesPerColumn < 1:
		return fmt.Errorf("%w: grid %dx%d has no frames", ErrInvalidSpec, s.FramesPerRow, s.FramesPerColumn)
	case s.FrameWidth < 1 || s.FrameHeight < 1:
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalidSpec, s.FrameWidth, s.FrameHeight)
	case s.FrameRate < 1:
		return fmt.Errorf("%w: frame rate %d fps", ErrInvalidSpec, s.FrameRate)
	}
	return nil
}

// gifPalette is the web-safe palette plus one fully transparent slot so
// sticker transparency survives quantization.
var gifPalette = append(color.Palette{color.Transparent}, palette.WebSafe...)

// ReconstructGIF cuts the sprite sheet at sheetPath into frames and encodes
// them as a looping GIF. Frames are enumerated in row-major order, which is
// the canonical playback order. The returned path points at a temporary file
// owned by the caller.
func ReconstructGIF(sheetPath string, spec SpriteSheetSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	f, err := os.Open(sheetPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	sheet, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := sheet.Bounds()
	if spec.FramesPerRow*spec.FrameWidth > bounds.Dx() || spec.FramesPerColumn*spec.FrameHeight > bounds.Dy() {
		return "", fmt.Errorf("%w: sheet is %dx%d but spec needs %dx%d",
			ErrDecode, bounds.Dx(), bounds.Dy(),
			spec.FramesPerRow*spec.FrameWidth, spec.FramesPerColumn*spec.FrameHeight)
	}

	delay := spec.FrameDurationMS() / 10 // GIF delays are in 100ths of a second
	anim := &gif.GIF{LoopCount: 0}
	frameBounds := image.Rect(0, 0, spec.FrameWidth, spec.FrameHeight)

	for row := 0; row < spec.FramesPerColumn; row++ {
		for col := 0; col < spec.FramesPerRow; col++ {
			origin := bounds.Min.Add(image.Pt(col*spec.FrameWidth, row*spec.FrameHeight))
			frame := image.NewPaletted(frameBounds, gifPalette)
			draw.FloydSteinberg.Draw(frame, frameBounds, sheet, origin)
			anim.Image = append(anim.Image, frame)
			anim.Delay = append(anim.Delay, delay)
			anim.Disposal = append(anim.Disposal, gif.DisposalBackground)
		}
	}

	out, err := os.CreateTemp("", "sticker-*.gif")
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	if err := gif.EncodeAll(out, anim); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to encode GIF: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to write output file: %w", err)
	}
	return out.Name(), nil
}
