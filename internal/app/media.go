package app

import (
	"os/exec"
	"strings"

	"github.com/ent0n29/guardian/internal/config"
	"github.com/ent0n29/guardian/internal/media"
)

type mediaSetup struct {
	transcriber media.Transcriber
	describer   media.Describer
	detail      string
}

// resolveMedia always wires whisper so a missing binary surfaces as an
// "[Error] ..." caption; vision is only enabled with a configured model.
func resolveMedia(cfg config.Config) mediaSetup {
	whisper := media.NewWhisperCLI(media.WhisperConfig{
		CLIPath:   cfg.LocalWhisperCLI,
		ModelPath: cfg.LocalWhisperModelPath,
		Language:  cfg.LocalWhisperLanguage,
		Threads:   cfg.LocalWhisperThreads,
	})
	setup := mediaSetup{transcriber: whisper}

	var parts []string
	if _, err := exec.LookPath(cfg.LocalWhisperCLI); err == nil {
		parts = append(parts, "whisper: "+cfg.LocalWhisperCLI)
	} else {
		parts = append(parts, "whisper: unavailable")
	}

	if model := strings.TrimSpace(cfg.VisionModel); model != "" {
		setup.describer = media.NewOllamaVision(cfg.VisionURL, model, cfg.BackendTimeout)
		parts = append(parts, "vision: "+model)
	} else {
		parts = append(parts, "vision: disabled")
	}
	setup.detail = strings.Join(parts, ", ")
	return setup
}
