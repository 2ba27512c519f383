package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/choco2105/magic-reading/internal/interfaces"
)

const (
	comfyBaseURL        = "http://localhost:8188"
	comfyPollInterval   = 1 * time.Second
	comfyNegativePrompt = "scary, violent, dark, blood, weapon, text, watermark, deformed"
)

// ComfyUIClient drives a local ComfyUI instance as an image provider
type ComfyUIClient struct {
	httpClient   *http.Client
	baseURL      string
	checkpoint   string
	pollInterval time.Duration
}

// Workflow is a ComfyUI prompt graph keyed by node id
type Workflow map[int]*WorkflowNode

// WorkflowNode is one node in the graph
type WorkflowNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// PromptRequest is the body of POST /prompt
type PromptRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
}

// HistoryItem is one prompt's entry in GET /history/{id}
type HistoryItem struct {
	Outputs map[string]struct {
		Images []ImageInfo `json:"images"`
	} `json:"outputs"`
}

// ImageInfo locates an output image on the ComfyUI server
type ImageInfo struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NewComfyUIClient creates a ComfyUI provider
func NewComfyUIClient(baseURL, checkpoint string, pollInterval time.Duration, httpClient *http.Client) *ComfyUIClient {
	if baseURL == "" {
		baseURL = comfyBaseURL
	}
	if pollInterval <= 0 {
		pollInterval = comfyPollInterval
	}
	return &ComfyUIClient{
		httpClient:   defaultHTTPClient(httpClient),
		baseURL:      strings.TrimRight(baseURL, "/"),
		checkpoint:   checkpoint,
		pollInterval: pollInterval,
	}
}

func (c *ComfyUIClient) Name() string { return "comfyui" }

// RequestImage queues the prompt, waits for it to finish and returns the
// server's view URL for the first output image. Cancelling ctx stops polling.
func (c *ComfyUIClient) RequestImage(ctx context.Context, prompt string) (*interfaces.ProviderImage, error) {
	promptID, err := c.queuePrompt(ctx, &PromptRequest{
		Prompt:   c.buildWorkflow(prompt),
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue prompt: %w", err)
	}

	img, err := c.pollForResult(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	return &interfaces.ProviderImage{URL: c.viewURL(img), Cost: 0}, nil
}

// HealthCheck checks if ComfyUI is accessible
func (c *ComfyUIClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ComfyUI returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *ComfyUIClient) queuePrompt(ctx context.Context, req *PromptRequest) (string, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return "", err
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("invalid response: missing prompt_id")
	}
	return result.PromptID, nil
}

func (c *ComfyUIClient) pollForResult(ctx context.Context, promptID string) (*ImageInfo, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			item, err := c.history(ctx, promptID)
			if err != nil || item == nil {
				continue
			}
			for _, output := range item.Outputs {
				if len(output.Images) > 0 {
					img := output.Images[0]
					return &img, nil
				}
			}
		}
	}
}

func (c *ComfyUIClient) history(ctx context.Context, promptID string) (*HistoryItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var history map[string]HistoryItem
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, err
	}
	item, ok := history[promptID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (c *ComfyUIClient) viewURL(img *ImageInfo) string {
	q := url.Values{}
	q.Set("filename", img.Filename)
	if img.Subfolder != "" {
		q.Set("subfolder", img.Subfolder)
	}
	if img.Type != "" {
		q.Set("type", img.Type)
	}
	return c.baseURL + "/view?" + q.Encode()
}

// buildWorkflow builds a turbo checkpoint graph for one prompt
func (c *ComfyUIClient) buildWorkflow(prompt string) Workflow {
	return Workflow{
		4: {
			ClassType: "CheckpointLoaderSimple",
			Inputs:    map[string]any{"ckpt_name": c.checkpoint},
		},
		3: {
			ClassType: "KSampler",
			Inputs: map[string]any{
				"seed":         time.Now().UnixNano() % 1_000_000_000,
				"steps":        8,
				"cfg":          7.0,
				"sampler_name": "euler_ancestral",
				"scheduler":    "normal",
				"denoise":      1,
				"model":        []any{4, 0},
				"positive":     []any{6, 0},
				"negative":     []any{7, 0},
				"latent_image": []any{5, 0},
			},
		},
		5: {
			ClassType: "EmptyLatentImage",
			Inputs:    map[string]any{"width": 1024, "height": 1024, "batch_size": 1},
		},
		6: {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": prompt, "clip": []any{4, 1}},
		},
		7: {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": comfyNegativePrompt, "clip": []any{4, 1}},
		},
		8: {
			ClassType: "VAEDecode",
			Inputs:    map[string]any{"samples": []any{3, 0}, "vae": []any{4, 2}},
		},
		9: {
			ClassType: "SaveImage",
			Inputs:    map[string]any{"images": []any{8, 0}, "filename_prefix": "magic_reading"},
		},
	}
}
