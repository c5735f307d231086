package converter

import (
	"context"
	"strings"

	"github.com/aliskhannn/toolbox/internal/model"
)

var audioFormats = []string{"mp3", "wav", "aac", "flac"}

// audioMuxers maps target formats to ffmpeg output muxers. The executor hands
// converters a scratch path, so the muxer cannot be guessed from the name.
var audioMuxers = map[string]string{
	"mp3":  "mp3",
	"wav":  "wav",
	"flac": "flac",
	"aac":  "adts",
}

// Audio converts between common audio formats through ffmpeg.
type Audio struct {
	runner Runner
	ffmpeg string
}

// NewAudio creates an audio converter that runs the given ffmpeg binary.
func NewAudio(runner Runner, ffmpegPath string) *Audio {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	return &Audio{runner: runner, ffmpeg: ffmpegPath}
}

func (c *Audio) Kind() model.Kind { return model.KindAudio }

func (c *Audio) Prepare(in Input) (Staged, error) {
	if in.SourcePath == "" {
		return Staged{}, invalid("please choose an audio file")
	}

	target := strings.ToLower(strings.TrimSpace(in.Params.Get(model.ParamTargetFormat, "")))
	if target == "" {
		return Staged{}, invalid("please choose a target format")
	}
	if !oneOf(target, audioFormats) {
		return Staged{}, invalid("unsupported target format %s, choose one of %s", strings.ToUpper(target), listed(audioFormats))
	}

	if ext := extension(in.Filename); !oneOf(ext, audioFormats) {
		return Staged{}, invalid("the format .%s is not supported, please upload one of %s", ext, listed(audioFormats))
	}

	return Staged{
		Params:      model.Params{model.ParamTargetFormat: target},
		DisplayName: baseName(in.Filename) + "." + target,
	}, nil
}

func (c *Audio) Convert(ctx context.Context, src, dst string, params model.Params) error {
	target := params.Get(model.ParamTargetFormat, "")

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src, "-vn"}
	if target == "aac" {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args, "-f", audioMuxers[target], dst)

	return c.runner.Run(ctx, nil, c.ffmpeg, args...)
}
