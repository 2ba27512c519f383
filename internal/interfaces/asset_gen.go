package interfaces

import "context"

// ProviderImage is what an image provider hands back
type ProviderImage struct {
	URL  string
	Cost float64
	// Author and AuthorURL credit the creator of a stock image
	Author    string
	AuthorURL string
}

// ImageProvider is one tier of the illustration cascade
type ImageProvider interface {
	Name() string
	RequestImage(ctx context.Context, prompt string) (*ProviderImage, error)
}
