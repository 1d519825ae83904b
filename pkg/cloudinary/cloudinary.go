package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

const defaultUploadTimeout = 15 * time.Second

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	Timeout   time.Duration
}

// Service is the evidence store for proctoring screenshots.
type Service struct {
	client  *cloudinary.Cloudinary
	folder  string
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// New fails when any credential is missing so callers can run without evidence storage.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}

	return &Service{
		client:  cld,
		folder:  cleanFolder(cfg.Folder),
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "evidence_store").Logger(),
	}, nil
}

// Upload stores one image under folder/subfolder. Every call yields a new asset; nothing is overwritten.
func (s *Service) Upload(ctx context.Context, subfolder, name string, reader io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	folder := cleanFolder(path.Join(s.folder, subfolder))
	params := uploader.UploadParams{
		Folder:         folder,
		PublicID:       evidenceID(name, s.now()),
		ResourceType:   "image",
		Overwrite:      api.Bool(false),
		UniqueFilename: api.Bool(false),
		Tags:           evidenceTags(subfolder),
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload evidence: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected evidence: %s", result.Error.Message)
	}

	s.logger.Info().
		Str("public_id", result.PublicID).
		Int("bytes", result.Bytes).
		Msg("proctoring evidence stored")
	return result.SecureURL, nil
}

func cleanFolder(folder string) string {
	folder = strings.Trim(path.Clean("/"+strings.TrimSpace(folder)), "/")
	if folder == "." {
		return ""
	}
	return folder
}

func evidenceTags(subfolder string) []string {
	tags := []string{"proctoring"}
	if sub := strings.Trim(subfolder, "/ "); sub != "" {
		tags = append(tags, sub)
	}
	return tags
}

// evidenceID keeps ASCII letters and digits of the file stem and appends a UTC timestamp.
func evidenceID(name string, now time.Time) string {
	stem := strings.TrimSuffix(path.Base(name), path.Ext(name))
	var b strings.Builder
	dash := false
	for _, r := range stem {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	base := strings.TrimSuffix(b.String(), "-")
	if base == "" {
		base = "screenshot"
	}
	return base + "-" + now.UTC().Format("20060102T150405.000000000")
}
