package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"

	"solscope/internal/domain"
)

const maxLogoBytes = 5 << 20

// LogoDownloader downloads token logos and caches square PNG thumbnails on disk
type LogoDownloader struct {
	basePath string
	size     int
	client   *http.Client
	group    singleflight.Group
}

// NewLogoDownloader creates the thumbnail directory if needed
func NewLogoDownloader(dir string, size int) (*LogoDownloader, error) {
	if size <= 0 {
		size = 64
	}

	// Ensure directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logo directory: %w", err)
	}

	// Optimize HTTP Transport to prevent connection leaks
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &LogoDownloader{
		basePath: dir,
		size:     size,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// Path returns the local thumbnail path for a mint, or "" for an invalid mint
func (d *LogoDownloader) Path(mint string) string {
	safe := sanitizeAddress(mint)
	if safe == "" || safe != mint {
		return ""
	}
	return filepath.Join(d.basePath, safe+".png")
}

// Cached returns the thumbnail path if it already exists
func (d *LogoDownloader) Cached(mint string) (string, bool) {
	p := d.Path(mint)
	if p == "" {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// Thumbnail returns the local thumbnail for mint, downloading logoURL on a miss.
// Concurrent requests for the same mint share one download.
func (d *LogoDownloader) Thumbnail(ctx context.Context, mint, logoURL string) (string, error) {
	// Security: mint becomes a file name
	filePath := d.Path(mint)
	if filePath == "" {
		return "", fmt.Errorf("%w: invalid token address %q", domain.ErrInvalidArgument, mint)
	}

	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Already exists (Cache Hit)
	}

	u, err := url.Parse(logoURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid logo url %q", domain.ErrInvalidArgument, logoURL)
	}

	_, err, _ = d.group.Do(mint, func() (any, error) {
		return nil, d.download(ctx, u.String(), filePath)
	})
	if err != nil {
		return "", err
	}
	return filePath, nil
}

func (d *LogoDownloader) download(ctx context.Context, logoURL, filePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return domain.NewNetworkError("download logo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.RemoteAPIError{Endpoint: logoURL, StatusCode: resp.StatusCode, Message: resp.Status}
	}

	// Decode the image
	srcImg, err := imaging.Decode(io.LimitReader(resp.Body, maxLogoBytes), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	// Square crop then resize with Lanczos
	thumb := imaging.Fill(srcImg, d.size, d.size, imaging.Center, imaging.Lanczos)

	// temp file then rename; the extension selects the encoder
	tmp := filePath + ".part.png"
	if err := imaging.Save(thumb, tmp); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return os.Rename(tmp, filePath)
}

// sanitizeAddress keeps base58 characters only
func sanitizeAddress(addr string) string {
	res := make([]rune, 0, len(addr))
	for _, r := range addr {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '1' && r <= '9') {
			if r == 'O' || r == 'I' || r == 'l' {
				continue
			}
			res = append(res, r)
		}
	}
	return string(res)
}
