package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExtractFrame renders the first frame of the media file at the path
// provided as a JPEG image, suitable for use as a thumbnail.
func (prober *Prober) ExtractFrame(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, prober.config.FfmpegBinaryPath,
		"-i", path,
		"-vframes", "1",
		"-c:v", "mjpeg",
		"-f", "image2pipe",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to extract frame from %s: %w (%s)", path, err, strings.TrimSpace(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("frame extraction from %s produced no image data", path)
	}

	return stdout.Bytes(), nil
}
