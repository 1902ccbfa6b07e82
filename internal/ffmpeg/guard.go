package ffmpeg

import (
	"context"
	"strings"

	"github.com/seriesvault/seriesvault/internal/domain"
)

// germanTags are the language tag values accepted as German audio or
// subtitles across containers.
var germanTags = map[string]bool{
	"de":  true,
	"deu": true,
	"ger": true,
}

// TagGuard decides audio-track suitability from container language tags.
// It is the cheap path of the language guard; content-based detection is an
// external collaborator and not wired here.
type TagGuard struct {
	runner *Runner
}

func NewTagGuard(runner *Runner) *TagGuard {
	return &TagGuard{runner: runner}
}

// Inspect probes path and returns the language verdict for it. When the
// file carries more than one audio stream and a German one is present but
// not first, the verdict instructs a remux down to that stream.
func (g *TagGuard) Inspect(ctx context.Context, path string) (domain.LanguageVerdict, error) {
	probe, err := g.runner.Probe(ctx, path)
	if err != nil {
		return domain.LanguageVerdict{}, err
	}
	return VerdictFromProbe(probe), nil
}

// VerdictFromProbe computes the verdict from parsed probe data.
func VerdictFromProbe(probe *ProbeResult) domain.LanguageVerdict {
	var verdict domain.LanguageVerdict
	audioCount := 0
	firstGermanAudio := -1
	audioPosition := 0

	for _, s := range probe.Streams {
		switch s.CodecType {
		case "audio":
			audioCount++
			if isGerman(s.Tags["language"]) {
				verdict.HasGermanDub = true
				if firstGermanAudio < 0 {
					firstGermanAudio = s.Index
					if audioPosition > 0 {
						verdict.NeedsRemux = true
					}
				}
			}
			audioPosition++
		case "subtitle":
			if isGerman(s.Tags["language"]) {
				verdict.HasGermanSub = true
			}
		}
	}

	if verdict.NeedsRemux && audioCount > 1 {
		verdict.AudioIndex = firstGermanAudio
	} else {
		verdict.NeedsRemux = false
	}
	return verdict
}

func isGerman(tag string) bool {
	return germanTags[strings.ToLower(strings.TrimSpace(tag))]
}
