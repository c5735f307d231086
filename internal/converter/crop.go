package converter

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/toolbox/internal/model"
)

// Crop parameters. The rectangle arrives either as crop_data JSON or as
// separate fields and is always stored as separate fields.
const (
	ParamCropData = "crop_data"
	ParamX        = "x"
	ParamY        = "y"
	ParamWidth    = "width"
	ParamHeight   = "height"
)

// minCropSide is the smallest accepted selection edge in pixels.
const minCropSide = 20

// Crop cuts a rectangle out of an image.
type Crop struct{}

// NewCrop creates a crop converter.
func NewCrop() *Crop {
	return &Crop{}
}

func (c *Crop) Kind() model.Kind { return model.KindCrop }

func (c *Crop) Prepare(in Input) (Staged, error) {
	if in.SourcePath == "" {
		return Staged{}, invalid("please choose an image")
	}

	rect, err := parseRect(in.Params)
	if err != nil {
		return Staged{}, err
	}

	if rect.Min.X < 0 || rect.Min.Y < 0 {
		return Staged{}, invalid("coordinates must not be negative")
	}
	if rect.Dx() < minCropSide || rect.Dy() < minCropSide {
		return Staged{}, invalid("selection too small, the minimum is %dx%d pixels", minCropSide, minCropSide)
	}

	cfg, err := decodeConfig(in.SourcePath)
	if err != nil {
		return Staged{}, invalid("cannot read image: %v", err)
	}
	if rect.Max.X > cfg.Width || rect.Max.Y > cfg.Height {
		return Staged{}, invalid("selection exceeds the image bounds")
	}

	name := baseName(in.Filename) + "." + imageExtension(in.Filename)

	return Staged{
		Params: model.Params{
			ParamX:              strconv.Itoa(rect.Min.X),
			ParamY:              strconv.Itoa(rect.Min.Y),
			ParamWidth:          strconv.Itoa(rect.Dx()),
			ParamHeight:         strconv.Itoa(rect.Dy()),
			model.ParamFilename: name,
		},
		DisplayName: "cropped_" + name,
	}, nil
}

func (c *Crop) Convert(ctx context.Context, src, dst string, params model.Params) error {
	rect, err := parseRect(params)
	if err != nil {
		return err
	}

	format, err := imaging.FormatFromFilename(params.Get(model.ParamFilename, "image.png"))
	if err != nil {
		return fmt.Errorf("resolve format: %w", err)
	}

	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return encodeFile(dst, imaging.Crop(img, rect), format)
}

type cropData struct {
	X      json.Number `json:"x"`
	Y      json.Number `json:"y"`
	Width  json.Number `json:"width"`
	Height json.Number `json:"height"`
}

// parseRect reads the crop rectangle from params.
func parseRect(p model.Params) (image.Rectangle, error) {
	fields := [4]string{p[ParamX], p[ParamY], p[ParamWidth], p[ParamHeight]}

	if raw := strings.TrimSpace(p[ParamCropData]); raw != "" {
		var d cropData
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&d); err != nil {
			return image.Rectangle{}, invalid("invalid crop data")
		}
		fields = [4]string{d.X.String(), d.Y.String(), d.Width.String(), d.Height.String()}
	}

	var v [4]int
	for i, f := range fields {
		if f == "" {
			return image.Rectangle{}, invalid("crop data is missing coordinates or dimensions")
		}

		n, err := parseInt(f)
		if err != nil {
			return image.Rectangle{}, invalid("invalid number %q in crop data", f)
		}
		v[i] = n
	}

	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

// maxCoordinate bounds crop values so the rectangle arithmetic cannot overflow.
const maxCoordinate = 1 << 30

// parseInt accepts integers and floats. Browser croppers send sub-pixel
// selections, which are truncated toward zero.
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n > maxCoordinate || n < -maxCoordinate {
			return 0, fmt.Errorf("out of range: %s", s)
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxCoordinate {
		return 0, fmt.Errorf("not a number: %s", s)
	}

	return int(f), nil
}

// imageExtension returns an extension imaging can encode, falling back to png.
func imageExtension(name string) string {
	ext := extension(name)
	if _, err := imaging.FormatFromExtension(ext); err != nil {
		return "png"
	}

	return ext
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)

	return cfg, err
}
