// Package media stores product images on Cloudinary.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

const (
	ProductFolder = "products"

	// Fit within 800x600 and let the CDN choose quality and format.
	productTransformation = "c_limit,w_800,h_600/q_auto/f_auto"
)

var (
	ErrNotConfigured = errors.New("media host not configured")
	ErrDestroyFailed = errors.New("image destroy failed")
)

type Image struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
}

type CloudinaryStore struct {
	cld    *cloudinary.Cloudinary
	folder string
	logger *slog.Logger
}

func NewCloudinaryStore(cloudName, apiKey, apiSecret string, logger *slog.Logger) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("create cloudinary client: %w", err)
	}

	return &CloudinaryStore{cld: cld, folder: ProductFolder, logger: logger}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, file io.Reader, filename string) (Image, error) {
	resp, err := s.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder:         s.folder,
		ResourceType:   "image",
		Transformation: productTransformation,
	})
	if err != nil {
		return Image{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	if resp.Error.Message != "" {
		return Image{}, fmt.Errorf("upload %s: %s", filename, resp.Error.Message)
	}

	img := Image{
		URL:      resp.SecureURL,
		PublicID: resp.PublicID,
		Width:    resp.Width,
		Height:   resp.Height,
		Format:   resp.Format,
	}
	s.logger.Info("image uploaded", "public_id", img.PublicID, "filename", filename)
	return img, nil
}

func (s *CloudinaryStore) Delete(ctx context.Context, publicID string) error {
	if publicID == "" {
		return nil
	}

	resp, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("destroy %s: %w", publicID, err)
	}
	if resp.Result != "ok" {
		return fmt.Errorf("%w: %s: %s", ErrDestroyFailed, publicID, resp.Result)
	}

	s.logger.Info("image deleted", "public_id", publicID)
	return nil
}

// Unconfigured is used when no Cloudinary credentials are present. Products
// can still be managed without images.
type Unconfigured struct{}

func (Unconfigured) Upload(context.Context, io.Reader, string) (Image, error) {
	return Image{}, ErrNotConfigured
}

func (Unconfigured) Delete(context.Context, string) error {
	return nil
}
