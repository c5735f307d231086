package converter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aliskhannn/toolbox/internal/model"
)

// Media parameters.
const (
	ParamQuality = "quality"
	ParamFPS     = "fps"
	ParamResize  = "resize"
)

// ParamFormat is the container field sent by the gif to video form.
// target_format takes precedence when both are present.
const ParamFormat = "format"

// DefaultMaxMediaSize is the largest accepted gif/video upload.
const DefaultMaxMediaSize int64 = 1 << 30

var (
	videoTargets = []string{"mp4", "mov"}
	videoSources = []string{"mp4", "mov", "avi", "mkv", "webm", "m4v"}
	qualities    = []string{"low", "medium", "high"}
)

type x264Settings struct {
	crf    string
	preset string
}

var x264ByQuality = map[string]x264Settings{
	"low":    {crf: "28", preset: "ultrafast"},
	"medium": {crf: "23", preset: "medium"},
	"high":   {crf: "18", preset: "slow"},
}

var ditherByQuality = map[string]string{
	"low":    "0",
	"medium": "2",
	"high":   "4",
}

var scaleByResize = map[string]string{
	"none":   "iw:-1",
	"small":  "320:-1",
	"medium": "480:-1",
	"large":  "640:-1",
}

// GifVideo turns animated GIFs into videos and videos into GIFs.
// The direction follows the source: a .gif upload becomes a video, anything else a GIF.
type GifVideo struct {
	runner  Runner
	ffmpeg  string
	maxSize int64
}

// NewGifVideo creates a gif/video converter. maxSize <= 0 means DefaultMaxMediaSize.
func NewGifVideo(runner Runner, ffmpegPath string, maxSize int64) *GifVideo {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxMediaSize
	}

	return &GifVideo{runner: runner, ffmpeg: ffmpegPath, maxSize: maxSize}
}

func (c *GifVideo) Kind() model.Kind { return model.KindGifVideo }

func (c *GifVideo) Prepare(in Input) (Staged, error) {
	if in.SourcePath == "" {
		return Staged{}, invalid("please choose a file")
	}
	if in.Size > c.maxSize {
		return Staged{}, invalid("the file is too large, the maximum is %d MiB", c.maxSize>>20)
	}

	quality := strings.ToLower(in.Params.Get(ParamQuality, "medium"))
	if !oneOf(quality, qualities) {
		return Staged{}, invalid("unknown quality %q", quality)
	}

	params := model.Params{ParamQuality: quality}

	switch ext := extension(in.Filename); {
	case ext == "gif":
		target := strings.ToLower(in.Params.Get(model.ParamTargetFormat, in.Params.Get(ParamFormat, "mp4")))
		if !oneOf(target, videoTargets) {
			return Staged{}, invalid("unsupported video format %s, choose one of %s", strings.ToUpper(target), listed(videoTargets))
		}
		params[model.ParamTargetFormat] = target

	case oneOf(ext, videoSources):
		fps, err := strconv.Atoi(in.Params.Get(ParamFPS, "10"))
		if err != nil || fps < 1 || fps > 30 {
			return Staged{}, invalid("fps must be a whole number between 1 and 30")
		}

		resize := strings.ToLower(in.Params.Get(ParamResize, "none"))
		if _, ok := scaleByResize[resize]; !ok {
			return Staged{}, invalid("unknown size %q", resize)
		}

		params[model.ParamTargetFormat] = "gif"
		params[ParamFPS] = strconv.Itoa(fps)
		params[ParamResize] = resize

	default:
		return Staged{}, invalid("unsupported file type .%s, upload a GIF or one of %s", ext, listed(videoSources))
	}

	return Staged{
		Params:      params,
		DisplayName: baseName(in.Filename) + "." + params[model.ParamTargetFormat],
	}, nil
}

func (c *GifVideo) Convert(ctx context.Context, src, dst string, params model.Params) error {
	target := params.Get(model.ParamTargetFormat, "")
	quality := params.Get(ParamQuality, "medium")

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src}

	switch target {
	case "mp4", "mov":
		s := x264ByQuality[quality]
		args = append(args,
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-crf", s.crf,
			"-preset", s.preset,
			"-f", target,
		)

	case "gif":
		filter := fmt.Sprintf(
			"fps=%s,scale=%s:flags=lanczos,split[s0][s1];[s0]palettegen=max_colors=256:stats_mode=diff[p];[s1][p]paletteuse=dither=%s",
			params.Get(ParamFPS, "10"),
			scaleByResize[params.Get(ParamResize, "none")],
			ditherByQuality[quality],
		)
		args = append(args, "-vf", filter, "-f", "gif")

	default:
		return fmt.Errorf("unsupported target format %q", target)
	}

	args = append(args, dst)

	return c.runner.Run(ctx, nil, c.ffmpeg, args...)
}
