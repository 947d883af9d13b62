package llm

import (
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.6
	defaultTopP           = 0.9
	defaultTopK           = 40
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 30
)

// GeminiConfig tunes the assistant model. Zero values fall back to defaults.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// Validate checks the configuration before a client is built.
func (c GeminiConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("gemini API key is required")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", c.TopP)
	}
	if c.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", c.TopK)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.TimeoutSeconds)
	}
	return nil
}

func (c *GeminiConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = defaultTopP
	}
	if c.TopK == 0 {
		c.TopK = defaultTopK
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = defaultMaxTokens
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
}

// systemPrompt frames the assistant as a triage aide, not a diagnosing
// physician. Responses stay short because they are spoken aloud.
const systemPrompt = `Kamu adalah asisten konsultasi kesehatan Sehatica.
Jawab dalam bahasa Indonesia yang ramah dan mudah dipahami.
Ajukan pertanyaan lanjutan untuk memahami keluhan pasien.
Jangan memberikan diagnosis pasti atau meresepkan obat keras.
Sarankan pasien menemui dokter bila keluhan terdengar serius.
Jawaban maksimal tiga kalimat karena akan dibacakan dengan suara.`

var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}

// fallbackResponses are spoken when the model fails, so the caller never
// hears silence.
var fallbackResponses = []string{
	"Maaf, saya belum menangkap maksud Anda. Bisa diulangi?",
	"Koneksi saya sedang kurang stabil. Boleh ceritakan kembali keluhan Anda?",
	"Mohon maaf, bisa dijelaskan sekali lagi keluhan yang Anda rasakan?",
}
