package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CloudinaryStorage implements ObjectStorage over Cloudinary.
type CloudinaryStorage struct {
	cld *cloudinary.Cloudinary
	log logrus.FieldLogger
}

func NewCloudinaryStorage(cloudURL string, log logrus.FieldLogger) (*CloudinaryStorage, error) {
	cld, err := cloudinary.NewFromURL(cloudURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}
	return &CloudinaryStorage{cld: cld, log: log.WithField("component", "cloudinary")}, nil
}

// UploadBatch pushes each payload under a uuid-suffixed public id scoped
// to the owning item and returns the secure URLs in submission order.
func (s *CloudinaryStorage) UploadBatch(ctx context.Context, itemID int64, payloads []Payload) ([]string, error) {
	urls := make([]string, 0, len(payloads))
	for _, p := range payloads {
		publicID := fmt.Sprintf("items/%d/%s", itemID, uuid.NewString())
		res, err := s.cld.Upload.Upload(ctx, bytes.NewReader(p.Data), uploader.UploadParams{PublicID: publicID})
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", p.Name, err)
		}
		s.log.WithFields(logrus.Fields{"item_id": itemID, "public_id": res.PublicID}).Info("image uploaded")
		urls = append(urls, res.SecureURL)
	}
	return urls, nil
}

// Destroy removes a previously uploaded image, best effort. The public id
// is recovered from the delivery URL path.
func (s *CloudinaryStorage) Destroy(ctx context.Context, url string) error {
	publicID := publicIDFromURL(url)
	if publicID == "" {
		return nil
	}
	if _, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID}); err != nil {
		return fmt.Errorf("destroy %s: %w", publicID, err)
	}
	s.log.WithField("public_id", publicID).Info("image destroyed")
	return nil
}

// publicIDFromURL extracts "items/<id>/<uuid>" from a Cloudinary delivery
// URL such as .../image/upload/v123/items/7/abc.jpg.
func publicIDFromURL(url string) string {
	_, rest, ok := strings.Cut(url, "/upload/")
	if !ok {
		return ""
	}
	parts := strings.Split(rest, "/")
	// Drop the version segment when present.
	if len(parts) > 0 && strings.HasPrefix(parts[0], "v") {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return ""
	}
	id := strings.Join(parts, "/")
	if dot := strings.LastIndex(id, "."); dot > 0 {
		id = id[:dot]
	}
	return id
}

// DevStorage is the in-memory object storage used in dev mode: payloads
// are kept in a map and served back from the same process, so the full
// local-to-remote image lifecycle works without Cloudinary.
type DevStorage struct {
	mu      sync.Mutex
	objects map[string]Payload
	baseURL string
}

func NewDevStorage(baseURL string) *DevStorage {
	return &DevStorage{objects: map[string]Payload{}, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *DevStorage) UploadBatch(_ context.Context, itemID int64, payloads []Payload) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, 0, len(payloads))
	for _, p := range payloads {
		name := fmt.Sprintf("items/%d/%s", itemID, uuid.NewString())
		s.objects[name] = p
		urls = append(urls, s.baseURL+"/dev-assets/"+name)
	}
	return urls, nil
}

func (s *DevStorage) Destroy(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, strings.TrimPrefix(url, s.baseURL+"/dev-assets/"))
	return nil
}

// Object returns the stored payload for the dev asset handler.
func (s *DevStorage) Object(name string) (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.objects[name]
	return p, ok
}
