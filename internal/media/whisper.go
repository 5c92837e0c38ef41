package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/ent0n29/guardian/internal/audio"
)

type WhisperConfig struct {
	CLIPath   string
	ModelPath string
	Language  string
	Threads   int
}

// WhisperCLI transcribes WAV files with the whisper.cpp command line tool.
type WhisperCLI struct {
	cli       string
	modelPath string
	language  string
	threads   int
}

func NewWhisperCLI(cfg WhisperConfig) *WhisperCLI {
	cli := strings.TrimSpace(cfg.CLIPath)
	if cli == "" {
		cli = "whisper-cli"
	}
	modelPath := strings.TrimSpace(cfg.ModelPath)
	if modelPath != "" && !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "en"
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
		if threads > 8 {
			threads = 8
		}
		if threads < 2 {
			threads = 2
		}
	}
	return &WhisperCLI{cli: cli, modelPath: modelPath, language: language, threads: threads}
}

func (w *WhisperCLI) AudioToText(ctx context.Context, path string) string {
	if _, err := os.Stat(path); err != nil {
		return errorText("Audio file not found.")
	}
	cliPath, err := exec.LookPath(w.cli)
	if err != nil {
		return errorText("Speech transcription unavailable: whisper.cpp CLI not found (%s).", w.cli)
	}
	if w.modelPath == "" {
		return errorText("Speech transcription unavailable: no whisper model configured.")
	}
	if _, err := os.Stat(w.modelPath); err != nil {
		return errorText("Speech transcription unavailable: whisper model not found (%s).", w.modelPath)
	}

	tmpDir, err := os.MkdirTemp("", "guardian-whisper-*")
	if err != nil {
		return errorText("Audio processing failed: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", w.modelPath,
		"-f", path,
		"-l", w.language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
		"-t", strconv.Itoa(w.threads),
	}
	cmd := exec.CommandContext(ctx, cliPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errorText("Audio processing timed out.")
		}
		detail := strings.TrimSpace(stderr.String())
		// whisper.cpp is chatty; keep the tail only.
		if len(detail) > 512 {
			detail = strings.TrimSpace(detail[len(detail)-512:])
		}
		if detail == "" {
			detail = err.Error()
		}
		return errorText("Audio processing failed: %s", detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return errorText("Audio processing failed: %v", err)
	}
	return strings.TrimSpace(string(b))
}

// PCMToText wraps raw PCM16LE mono audio in a WAV file and transcribes it.
func (w *WhisperCLI) PCMToText(ctx context.Context, pcm16le []byte, sampleRate int) string {
	if len(pcm16le) == 0 {
		return errorText("Audio clip is empty.")
	}
	f, err := os.CreateTemp("", "guardian-clip-*.wav")
	if err != nil {
		return errorText("Audio processing failed: %v", err)
	}
	path := f.Name()
	defer os.Remove(path)

	werr := audio.WriteWAVPCM16LETo(f, pcm16le, sampleRate)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return errorText("Audio processing failed: %v", err)
	}
	return w.AudioToText(ctx, path)
}
