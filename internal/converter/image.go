package converter

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	_ "golang.org/x/image/webp"

	"github.com/aliskhannn/toolbox/internal/model"
)

// ParamWatermark is an optional text drawn in the bottom-right corner.
const ParamWatermark = "watermark"

var imageTargets = []string{"png", "jpg", "jpeg", "gif", "bmp", "tif", "tiff"}

// Image converts pictures between formats.
// Webp files are accepted as input only; there is no webp encoder available.
type Image struct {
	fontPath string
}

// NewImage creates an image converter. fontPath is the TTF used for watermarks;
// when empty the built-in bitmap face is used.
func NewImage(fontPath string) *Image {
	return &Image{fontPath: fontPath}
}

func (c *Image) Kind() model.Kind { return model.KindImage }

func (c *Image) Prepare(in Input) (Staged, error) {
	if in.SourcePath == "" {
		return Staged{}, invalid("please choose an image")
	}

	target := strings.ToLower(strings.TrimSpace(in.Params.Get(model.ParamTargetFormat, "")))
	if target == "" {
		return Staged{}, invalid("please choose a target format")
	}
	if !oneOf(target, imageTargets) {
		return Staged{}, invalid("unsupported target format %s, choose one of %s", strings.ToUpper(target), listed(imageTargets))
	}

	params := model.Params{model.ParamTargetFormat: target}
	if wm := strings.TrimSpace(in.Params.Get(ParamWatermark, "")); wm != "" {
		params[ParamWatermark] = wm
	}

	return Staged{
		Params:      params,
		DisplayName: baseName(in.Filename) + "." + target,
	}, nil
}

func (c *Image) Convert(ctx context.Context, src, dst string, params model.Params) error {
	format, err := imaging.FormatFromExtension(params.Get(model.ParamTargetFormat, ""))
	if err != nil {
		return fmt.Errorf("resolve format: %w", err)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	if text := params.Get(ParamWatermark, ""); text != "" {
		if img, err = c.watermark(img, text); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return encodeFile(dst, img, format)
}

// watermark draws text in the bottom-right corner of img.
func (c *Image) watermark(img image.Image, text string) (image.Image, error) {
	dc := gg.NewContextForImage(img)
	dc.SetColor(color.White)

	if c.fontPath != "" {
		fontSize := float64(dc.Width()) * 0.05 // 5% of the image width
		if err := dc.LoadFontFace(c.fontPath, fontSize); err != nil {
			return nil, fmt.Errorf("failed to load font: %w", err)
		}
	}

	const margin = 10.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	dc.DrawStringAnchored(text, x, y, 1, 0)

	return dc.Image(), nil
}

// encodeFile writes img to path in the given format.
func encodeFile(path string, img image.Image, format imaging.Format) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := imaging.Encode(f, img, format); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	return nil
}
