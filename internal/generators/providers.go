package generators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/choco2105/magic-reading/internal/interfaces"
)

const defaultHTTPTimeout = 60 * time.Second

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// OpenAIImageProvider is the paid tier backed by the OpenAI images API
type OpenAIImageProvider struct {
	client *openai.Client
	model  string
	size   string
	cost   float64
}

// NewOpenAIImageProvider creates the paid image provider
func NewOpenAIImageProvider(apiKey, baseURL, model, size string, cost float64) *OpenAIImageProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = "dall-e-3"
	}
	if size == "" {
		size = "1024x1024"
	}
	return &OpenAIImageProvider{client: openai.NewClientWithConfig(config), model: model, size: size, cost: cost}
}

func (p *OpenAIImageProvider) Name() string { return "openai" }

func (p *OpenAIImageProvider) RequestImage(ctx context.Context, prompt string) (*interfaces.ProviderImage, error) {
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.model,
		N:              1,
		Size:           p.size,
		Quality:        "standard",
		Style:          "vivid",
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, errors.New("no image returned")
	}
	return &interfaces.ProviderImage{URL: resp.Data[0].URL, Cost: p.cost}, nil
}

// PollinationsProvider is a free community model addressed by URL
type PollinationsProvider struct {
	baseURL    string
	width      int
	height     int
	httpClient *http.Client
	seed       func() int64
}

// NewPollinationsProvider creates the free Pollinations provider
func NewPollinationsProvider(baseURL string, width, height int, httpClient *http.Client) *PollinationsProvider {
	if baseURL == "" {
		baseURL = "https://image.pollinations.ai"
	}
	return &PollinationsProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		width:      width,
		height:     height,
		httpClient: defaultHTTPClient(httpClient),
		seed:       func() int64 { return time.Now().UnixNano() % 1_000_000 },
	}
}

func (p *PollinationsProvider) Name() string { return "pollinations" }

// RequestImage builds the image URL and checks it renders before handing it out
func (p *PollinationsProvider) RequestImage(ctx context.Context, prompt string) (*interfaces.ProviderImage, error) {
	q := url.Values{}
	if p.width > 0 {
		q.Set("width", strconv.Itoa(p.width))
	}
	if p.height > 0 {
		q.Set("height", strconv.Itoa(p.height))
	}
	q.Set("nologo", "true")
	q.Set("seed", strconv.FormatInt(p.seed(), 10))
	imageURL := fmt.Sprintf("%s/prompt/%s?%s", p.baseURL, url.PathEscape(prompt), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}
	return &interfaces.ProviderImage{URL: imageURL, Cost: 0}, nil
}

// PixabayProvider searches a stock illustration library
type PixabayProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewPixabayProvider(apiKey, baseURL string, httpClient *http.Client) *PixabayProvider {
	if baseURL == "" {
		baseURL = "https://pixabay.com/api/"
	}
	return &PixabayProvider{apiKey: apiKey, baseURL: baseURL, httpClient: defaultHTTPClient(httpClient)}
}

func (p *PixabayProvider) Name() string { return "pixabay" }

func (p *PixabayProvider) RequestImage(ctx context.Context, prompt string) (*interfaces.ProviderImage, error) {
	q := url.Values{}
	q.Set("key", p.apiKey)
	q.Set("q", SearchTerms(prompt))
	q.Set("image_type", "illustration")
	q.Set("category", "education")
	q.Set("safesearch", "true")
	q.Set("per_page", "5")
	q.Set("lang", "en")

	var body struct {
		Hits []struct {
			LargeImageURL string `json:"largeImageURL"`
			User          string `json:"user"`
			UserID        int64  `json:"user_id"`
		} `json:"hits"`
	}
	if err := getJSON(ctx, p.httpClient, p.baseURL+"?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	if len(body.Hits) == 0 || body.Hits[0].LargeImageURL == "" {
		return nil, errors.New("no results")
	}
	hit := body.Hits[0]
	img := &interfaces.ProviderImage{URL: hit.LargeImageURL, Author: "Pixabay", AuthorURL: "https://pixabay.com"}
	if hit.User != "" {
		img.Author = hit.User
		img.AuthorURL = fmt.Sprintf("https://pixabay.com/users/%s-%d/", hit.User, hit.UserID)
	}
	return img, nil
}

// PexelsProvider searches a stock photo library
type PexelsProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewPexelsProvider(apiKey, baseURL string, httpClient *http.Client) *PexelsProvider {
	if baseURL == "" {
		baseURL = "https://api.pexels.com/v1/search"
	}
	return &PexelsProvider{apiKey: apiKey, baseURL: baseURL, httpClient: defaultHTTPClient(httpClient)}
}

func (p *PexelsProvider) Name() string { return "pexels" }

func (p *PexelsProvider) RequestImage(ctx context.Context, prompt string) (*interfaces.ProviderImage, error) {
	q := url.Values{}
	q.Set("query", SearchTerms(prompt))
	q.Set("per_page", "5")
	q.Set("orientation", "landscape")

	var body struct {
		Photos []struct {
			Src struct {
				Large string `json:"large"`
			} `json:"src"`
			Photographer    string `json:"photographer"`
			PhotographerURL string `json:"photographer_url"`
		} `json:"photos"`
	}
	headers := map[string]string{"Authorization": p.apiKey}
	if err := getJSON(ctx, p.httpClient, p.baseURL+"?"+q.Encode(), headers, &body); err != nil {
		return nil, err
	}
	if len(body.Photos) == 0 || body.Photos[0].Src.Large == "" {
		return nil, errors.New("no results")
	}
	photo := body.Photos[0]
	return &interfaces.ProviderImage{
		URL:       photo.Src.Large,
		Author:    firstNonBlank(photo.Photographer, "Pexels"),
		AuthorURL: firstNonBlank(photo.PhotographerURL, "https://pexels.com"),
	}, nil
}

// UnsplashProvider searches a stock photo library, biased toward drawings
type UnsplashProvider struct {
	accessKey  string
	baseURL    string
	httpClient *http.Client
}

func NewUnsplashProvider(accessKey, baseURL string, httpClient *http.Client) *UnsplashProvider {
	if baseURL == "" {
		baseURL = "https://api.unsplash.com/search/photos"
	}
	return &UnsplashProvider{accessKey: accessKey, baseURL: baseURL, httpClient: defaultHTTPClient(httpClient)}
}

func (p *UnsplashProvider) Name() string { return "unsplash" }

func (p *UnsplashProvider) RequestImage(ctx context.Context, prompt string) (*interfaces.ProviderImage, error) {
	q := url.Values{}
	q.Set("query", strings.TrimSpace(SearchTerms(prompt)+" illustration cartoon drawing artwork colorful kids"))
	q.Set("per_page", "5")
	q.Set("orientation", "landscape")
	q.Set("content_filter", "high")

	var body struct {
		Results []struct {
			URLs struct {
				Regular string `json:"regular"`
			} `json:"urls"`
			User struct {
				Name  string `json:"name"`
				Links struct {
					HTML string `json:"html"`
				} `json:"links"`
			} `json:"user"`
		} `json:"results"`
	}
	headers := map[string]string{"Authorization": "Client-ID " + p.accessKey}
	if err := getJSON(ctx, p.httpClient, p.baseURL+"?"+q.Encode(), headers, &body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 || body.Results[0].URLs.Regular == "" {
		return nil, errors.New("no results")
	}
	r := body.Results[0]
	return &interfaces.ProviderImage{
		URL:       r.URLs.Regular,
		Author:    firstNonBlank(r.User.Name, "Unsplash"),
		AuthorURL: firstNonBlank(r.User.Links.HTML, "https://unsplash.com"),
	}, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getJSON(ctx context.Context, client *http.Client, u string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "with": true, "in": true, "on": true,
	"of": true, "to": true, "for": true, "at": true, "its": true, "their": true, "while": true,
	"together": true, "under": true, "over": true, "into": true, "from": true,
}

// SearchTerms reduces an enriched prompt to a few keywords for stock search
func SearchTerms(prompt string) string {
	if i := strings.LastIndex(prompt, ": "); i >= 0 {
		prompt = prompt[i+2:]
	}
	fields := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	terms := make([]string, 0, 5)
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		terms = append(terms, f)
		if len(terms) == 5 {
			break
		}
	}
	return strings.Join(terms, " ")
}
