package converter

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/toolbox/internal/model"
)

// ParamLanguage selects the tesseract language pack.
const ParamLanguage = "language"

var (
	ocrSources   = []string{"png", "jpg", "jpeg", "bmp", "tif", "tiff"}
	ocrLanguages = []string{"deu", "eng", "fra", "spa", "ita"}
)

// ocrMaxSide bounds the preprocessed image to keep tesseract runs short.
const ocrMaxSide = 1500

// OCR extracts text from an image with tesseract.
type OCR struct {
	runner    Runner
	tesseract string
}

// NewOCR creates an OCR converter that runs the given tesseract binary.
func NewOCR(runner Runner, tesseractPath string) *OCR {
	if tesseractPath == "" {
		tesseractPath = "tesseract"
	}

	return &OCR{runner: runner, tesseract: tesseractPath}
}

func (c *OCR) Kind() model.Kind { return model.KindOCR }

func (c *OCR) Prepare(in Input) (Staged, error) {
	if in.SourcePath == "" {
		return Staged{}, invalid("please choose an image")
	}

	if ext := extension(in.Filename); !oneOf(ext, ocrSources) {
		return Staged{}, invalid("the file type is not supported, supported types: %s", listed(ocrSources))
	}

	if in.Size == 0 {
		return Staged{}, invalid("the selected file is empty or damaged")
	}

	lang := strings.ToLower(in.Params.Get(ParamLanguage, "deu"))
	if !oneOf(lang, ocrLanguages) {
		return Staged{}, invalid("unsupported language %q, choose one of %s", lang, listed(ocrLanguages))
	}

	return Staged{
		Params: model.Params{
			model.ParamTargetFormat: "txt",
			ParamLanguage:           lang,
		},
		DisplayName: baseName(in.Filename) + ".txt",
	}, nil
}

// Convert normalizes the image (downscale, grayscale, contrast) into a
// temporary PNG and lets tesseract print the recognized text into dst.
func (c *OCR) Convert(ctx context.Context, src, dst string, params model.Params) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > ocrMaxSide || b.Dy() > ocrMaxSide {
		img = imaging.Fit(img, ocrMaxSide, ocrMaxSide, imaging.Lanczos)
	}
	prepared := imaging.AdjustContrast(imaging.Grayscale(img), 50)

	tmp, err := os.CreateTemp("", "ocr_*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := encodeFile(tmpPath, prepared, imaging.PNG); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	runErr := c.runner.Run(ctx, out, c.tesseract, tmpPath, "stdout", "-l", params.Get(ParamLanguage, "deu"))
	closeErr := out.Close()

	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}

	return nil
}
