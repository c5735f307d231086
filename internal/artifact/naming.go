// Package artifact derives on-disk names of produced artifacts.
//
// The executor writes to these paths and the sweeper recomputes them, so a
// staged record can be cleaned up even when it was never converted.
package artifact

import (
	"path/filepath"
	"strings"

	"github.com/aliskhannn/toolbox/internal/model"
)

const partialSuffix = ".part"

// Name returns the file name of the artifact produced for token.
func Name(kind model.Kind, token string, params model.Params) string {
	if kind == model.KindCrop {
		return "cropped_" + token + "_" + SafeBase(params.Get(model.ParamFilename, "image.png"))
	}

	ext := strings.TrimPrefix(strings.ToLower(params.Get(model.ParamTargetFormat, "bin")), ".")

	return "converted_" + token + "." + SafeBase(ext)
}

// Path joins dir with the artifact name for token.
func Path(dir string, kind model.Kind, token string, params model.Params) string {
	return filepath.Join(dir, Name(kind, token, params))
}

// PartialPath is the scratch file a converter writes before the result is renamed into place.
func PartialPath(path string) string {
	return path + partialSuffix
}

// SafeBase strips any directory components so user supplied names
// cannot escape the output directory.
func SafeBase(name string) string {
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if name == "/" || name == "." || name == "" {
		return "file"
	}

	return name
}
