package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/shlex"

	errpkg "github.com/seriesvault/seriesvault/internal/errors"
)

// Runner wraps the ffmpeg and ffprobe binaries. All invocations honor the
// passed context, so a cancelled fetch kills the child process.
type Runner struct {
	ffmpeg    string
	ffprobe   string
	extraArgs []string
	logger    *slog.Logger
}

// NewRunner verifies both binaries are resolvable and parses the optional
// extra argument string (shell-style quoting) appended to every remux.
func NewRunner(ffmpegBin, ffprobeBin, extraArgs string, logger *slog.Logger) (*Runner, error) {
	for _, bin := range []string{ffmpegBin, ffprobeBin} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("binary not found in PATH: %s: %w", bin, err)
		}
	}

	args, err := shlex.Split(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid extra ffmpeg args %q: %w", extraArgs, err)
	}

	return &Runner{
		ffmpeg:    ffmpegBin,
		ffprobe:   ffprobeBin,
		extraArgs: args,
		logger:    logger,
	}, nil
}

// ProbeStream is one stream entry of ffprobe's JSON output.
type ProbeStream struct {
	Index       int    `json:"index"`
	CodecType   string `json:"codec_type"`
	CodecName   string `json:"codec_name"`
	Tags        map[string]string
	Disposition map[string]int `json:"disposition"`
}

// UnmarshalJSON lower-cases tag keys; ffprobe emits them in mixed case
// depending on the container.
func (s *ProbeStream) UnmarshalJSON(data []byte) error {
	type alias struct {
		Index       int               `json:"index"`
		CodecType   string            `json:"codec_type"`
		CodecName   string            `json:"codec_name"`
		Tags        map[string]string `json:"tags"`
		Disposition map[string]int    `json:"disposition"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	s.Index = a.Index
	s.CodecType = a.CodecType
	s.CodecName = a.CodecName
	s.Disposition = a.Disposition
	s.Tags = make(map[string]string, len(a.Tags))
	for k, v := range a.Tags {
		s.Tags[toLower(k)] = v
	}
	return nil
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// ProbeResult is the parsed ffprobe output for one file.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe runs ffprobe on path and parses its JSON output.
func (r *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, r.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errpkg.NewFetchError(errpkg.KindCancelled, false, ctx.Err())
		}
		return nil, errpkg.NewFetchError(errpkg.KindTranscode, false,
			fmt.Errorf("ffprobe failed for %s: %w", path, err))
	}

	return ParseProbeOutput(out.Bytes())
}

// ParseProbeOutput decodes raw ffprobe JSON.
func ParseProbeOutput(data []byte) (*ProbeResult, error) {
	var res ProbeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &res, nil
}

// Remux rewrites in to out keeping the video stream and only the audio
// stream at audioIndex (an absolute stream index), copying codecs. Subtitle
// streams are carried over unchanged.
func (r *Runner) Remux(ctx context.Context, in, out string, audioIndex int) error {
	args := []string{
		"-y",
		"-i", in,
		"-map", "0:v:0",
		"-map", fmt.Sprintf("0:%d", audioIndex),
		"-map", "0:s?",
		"-c", "copy",
	}
	args = append(args, r.extraArgs...)
	args = append(args, out)

	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debug("remuxing", "in", in, "out", out, "audio_index", audioIndex)

	if err := cmd.Run(); err != nil {
		os.Remove(out)
		if ctx.Err() != nil {
			return errpkg.NewFetchError(errpkg.KindCancelled, false, ctx.Err())
		}
		r.logger.Error("ffmpeg remux failed", "in", in, "error", err, "output", output.String())
		return errpkg.NewFetchError(errpkg.KindTranscode, false,
			fmt.Errorf("ffmpeg remux failed: %w", err))
	}
	return nil
}
