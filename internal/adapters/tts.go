package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/eduviz/backend/internal/media"
	"github.com/eduviz/backend/pkg/retry"
)

// SpeechSynthesizer is the TTS contract consumed by section workers.
type SpeechSynthesizer interface {
	// Synthesize writes spoken audio for text to outputPath (mp3) and
	// returns its measured duration in seconds.
	Synthesize(ctx context.Context, text, outputPath, voice string) (float64, error)

	// WholeSectionTTS reports whether the provider keeps natural prosody
	// across long inputs, enabling single-call whole-section synthesis.
	WholeSectionTTS() bool
}

const defaultTTSVoice = "Charon"

// GeminiTTS synthesizes speech through the Gemini audio modality. Calls are
// throttled by a token bucket keyed to the provider's RPM allowance.
type GeminiTTS struct {
	client  *genai.Client
	model   string
	probe   *media.FFmpeg
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGeminiTTSClient builds a TTS adapter with its own genai client.
func NewGeminiTTSClient(ctx context.Context, apiKey, model string, rpm int, probe *media.FFmpeg, logger *zap.Logger) (*GeminiTTS, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client for TTS: %w", err)
	}
	return NewGeminiTTS(client, model, rpm, probe, logger), nil
}

// NewGeminiTTS wraps an existing genai client. rpm bounds requests per minute.
func NewGeminiTTS(client *genai.Client, model string, rpm int, probe *media.FFmpeg, logger *zap.Logger) *GeminiTTS {
	if rpm < 1 {
		rpm = 1
	}
	return &GeminiTTS{
		client:  client,
		model:   model,
		probe:   probe,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:  logger,
	}
}

// WholeSectionTTS is true: Gemini handles long passages in one call.
func (t *GeminiTTS) WholeSectionTTS() bool { return true }

// Synthesize generates speech, converts the returned PCM to mp3, and returns
// the measured duration.
func (t *GeminiTTS) Synthesize(ctx context.Context, text, outputPath, voice string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("empty text for TTS")
	}
	if voice == "" {
		voice = defaultTTSVoice
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("tts rate limit wait cancelled: %w", err)
	}

	start := time.Now()
	t.logger.Info("Synthesizing speech",
		zap.String("voice", voice),
		zap.Int("text_length", len(text)),
		zap.String("model", t.model),
	)

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(text)},
	}}

	var pcm []byte
	var mimeType string
	err := retry.Do(ctx, retry.APIConfig(), func() error {
		resp, callErr := t.client.Models.GenerateContent(ctx, t.model, contents, config)
		if callErr != nil {
			return callErr
		}
		data, mime, ok := firstAudioPart(resp)
		if !ok {
			return fmt.Errorf("tts response contained no audio data")
		}
		pcm = data
		mimeType = mime
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tts generation failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create audio dir: %w", err)
	}
	if err := t.probe.EncodePCMToMP3(ctx, pcm, sampleRateFromMIME(mimeType), outputPath); err != nil {
		return 0, fmt.Errorf("failed to encode tts audio: %w", err)
	}

	duration, err := t.probe.Duration(ctx, outputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to measure tts audio: %w", err)
	}

	t.logger.Info("Speech synthesized",
		zap.Float64("duration_seconds", duration),
		zap.Duration("elapsed", time.Since(start)),
	)
	return duration, nil
}

func firstAudioPart(resp *genai.GenerateContentResponse) ([]byte, string, bool) {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, part.InlineData.MIMEType, true
			}
		}
	}
	return nil, "", false
}

// sampleRateFromMIME parses "audio/L16;codec=pcm;rate=24000"; defaults 24000.
func sampleRateFromMIME(mime string) int {
	for _, field := range strings.Split(mime, ";") {
		field = strings.TrimSpace(field)
		if rateStr, ok := strings.CutPrefix(field, "rate="); ok {
			var rateHz int
			if _, err := fmt.Sscanf(rateStr, "%d", &rateHz); err == nil && rateHz > 0 {
				return rateHz
			}
		}
	}
	return 24000
}

// PlaceholderAudio writes estimated-length silence when synthesis fails, so
// the pipeline can keep moving. Roughly 0.4 s per word, at least 1 s.
func PlaceholderAudio(ctx context.Context, probe *media.FFmpeg, text, outputPath string) (float64, error) {
	words := len(strings.Fields(text))
	duration := float64(words) * 0.4
	if duration < 1.0 {
		duration = 1.0
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, err
	}
	if err := probe.GenerateSilence(ctx, duration, outputPath); err != nil {
		return 0, fmt.Errorf("failed to generate placeholder silence: %w", err)
	}
	return duration, nil
}
