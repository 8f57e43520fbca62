package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// WhisperTranscriber runs Python's OpenAI Whisper CLI against local audio
// files. Audio is first normalized to 16kHz mono WAV with ffmpeg, matching
// what the model expects.
type WhisperTranscriber struct {
	modelName string
	language  string
	tempDir   string
}

// NewWhisperTranscriber creates a transcriber using the given Whisper model
// name (tiny, base, small, medium, large).
func NewWhisperTranscriber(modelName, language, tempDir string) *WhisperTranscriber {
	log.Printf("Initializing Whisper transcriber (model: %s)", modelName)
	return &WhisperTranscriber{
		modelName: modelName,
		language:  language,
		tempDir:   tempDir,
	}
}

// Transcribe processes an audio file and returns the transcript. The context
// bounds both the ffmpeg normalization and the Whisper run; a deadline hit is
// reported as transient so the worker's retry policy applies.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, audioPath, languageHint string) (*Transcription, error) {
	wavPath, err := wt.normalize(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	outDir := filepath.Join(wt.tempDir, "whisper_"+uuid.New().String())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, transientErr("transcribe", fmt.Errorf("create output dir: %v", err))
	}
	defer os.RemoveAll(outDir)

	language := wt.language
	if languageHint != "" {
		language = languageHint
	}

	args := []string{"-m", "whisper",
		wavPath,
		"--model", wt.modelName,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False",
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	cmd := exec.CommandContext(ctx, "python", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, transientErr("transcribe", fmt.Errorf("whisper timed out: %v", ctx.Err()))
		}
		return nil, transientErr("transcribe", fmt.Errorf("whisper failed: %v\noutput: %s", err, output))
	}

	baseName := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, transientErr("transcribe", fmt.Errorf("read whisper output: %v", err))
	}

	var out whisperOutput
	if err := json.Unmarshal(jsonData, &out); err != nil {
		return nil, transientErr("transcribe", fmt.Errorf("parse whisper output: %v", err))
	}

	// Duration is the end timestamp of the last segment.
	var duration float64
	if n := len(out.Segments); n > 0 {
		duration = out.Segments[n-1].End
	}

	return &Transcription{
		Text:            strings.TrimSpace(out.Text),
		Language:        out.Language,
		DurationSeconds: duration,
	}, nil
}

// normalize converts any supported audio file to 16kHz mono WAV. A decode
// failure here means the input itself is corrupt or unsupported, so it is
// classified permanent.
func (wt *WhisperTranscriber) normalize(ctx context.Context, inputPath string) (string, error) {
	outputPath := filepath.Join(wt.tempDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", transientErr("transcribe", fmt.Errorf("ffmpeg timed out: %v", ctx.Err()))
		}
		return "", permanentErr("transcribe", fmt.Errorf("audio decode failed: %v\noutput: %s", err, output))
	}
	return outputPath, nil
}

// whisperOutput matches Python Whisper's JSON output format.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}
