package media

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const visionPrompt = "Describe this scene in one sentence for a personal safety assistant. " +
	"Mention people, their distance, lighting and anything threatening."

// OllamaVision captions images with a multimodal model behind an
// Ollama-compatible /api/generate endpoint.
type OllamaVision struct {
	model  string
	client *resty.Client
}

func NewOllamaVision(baseURL, model string, timeout time.Duration) *OllamaVision {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	client.SetTimeout(timeout)
	return &OllamaVision{model: strings.TrimSpace(model), client: client}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (v *OllamaVision) ImageToText(ctx context.Context, path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errorText("Image file not found.")
	}
	if v.model == "" {
		return errorText("Image description unavailable: no vision model configured.")
	}

	var out generateResponse
	res, err := v.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(generateRequest{
			Model:  v.model,
			Prompt: visionPrompt,
			Images: []string{base64.StdEncoding.EncodeToString(raw)},
			Stream: false,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/api/generate")
	if err != nil {
		return errorText("Image processing failed: %v", err)
	}
	if res.StatusCode() != http.StatusOK {
		detail := strings.TrimSpace(out.Error)
		if detail == "" {
			detail = res.Status()
		}
		return errorText("Image processing failed: %s", detail)
	}

	caption := strings.TrimRight(strings.TrimSpace(out.Response), ".")
	if caption == "" {
		return errorText("Image processing failed: empty caption")
	}
	return "Scene description: " + caption + ". "
}
