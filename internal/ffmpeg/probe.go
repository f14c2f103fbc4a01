// Package ffmpeg wraps the ffmpeg/ffprobe binaries for the media
// inspection Vidra performs on downloaded clips.
package ffmpeg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/hbomb79/Vidra/internal/clip"
	"github.com/labstack/gommon/bytes"
)

type (
	Config struct {
		FfmpegBinaryPath  string `yaml:"ffmpeg_binary" env:"FORMAT_FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
		FfprobeBinaryPath string `yaml:"ffprobe_binary" env:"FORMAT_FFPROBE_BINARY_PATH" env-default:"/usr/bin/ffprobe"`
	}

	// Prober inspects media files using the configured ffmpeg/ffprobe
	// binaries.
	Prober struct {
		config Config
	}
)

func NewProber(config Config) *Prober {
	return &Prober{config: config}
}

func (prober *Prober) probeFile(path string) (transcoder.Metadata, error) {
	cfg := ffmpeg.Config{FfmpegBinPath: prober.config.FfmpegBinaryPath, FfprobeBinPath: prober.config.FfprobeBinaryPath}
	transcoder := ffmpeg.New(&cfg).Input(path)
	metadata, err := transcoder.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %s", err.Error())
	}

	return metadata, nil
}

// ProbeMediaDetails inspects the media file at the path provided and
// summarises its technical properties. The frame dimensions and frame
// rate are read from the first stream.
func (prober *Prober) ProbeMediaDetails(path string) (*clip.MediaDetails, error) {
	metadata, err := prober.probeFile(path)
	if err != nil {
		return nil, err
	}

	streams := metadata.GetStreams()
	if len(streams) == 0 {
		return nil, fmt.Errorf("media file %s contains no streams", path)
	}

	stream := streams[0]
	details := &clip.MediaDetails{
		Resolution: fmt.Sprintf("%dx%d", stream.GetWidth(), stream.GetHeight()),
		Fps:        parseFrameRate(stream.GetAvgFrameRate()),
	}

	if info, err := os.Stat(path); err == nil {
		details.Size = bytes.Format(info.Size())
	}

	return details, nil
}

// parseFrameRate converts ffprobe's rational frame rate notation
// (e.g. "30000/1001") to a float. Zero is returned when the notation
// cannot be parsed.
func parseFrameRate(rate string) float64 {
	numerator, denominator, found := strings.Cut(rate, "/")
	if !found {
		parsed, _ := strconv.ParseFloat(rate, 64)
		return parsed
	}

	num, err := strconv.ParseFloat(numerator, 64)
	if err != nil {
		return 0
	}
	den, err := strconv.ParseFloat(denominator, 64)
	if err != nil || den == 0 {
		return 0
	}

	return num / den
}
