// Package storage manages the on-disk webp render cache. Images live under
// <data>/webp/<device-id>/<iname>.webp, with ephemeral pushed images in a
// pushed/ subdirectory so they can be cleaned independently.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tronbyt/server/internal/config"
)

type ImageStore struct {
	root string
}

// NewImageStore creates an image store rooted at dataDir/webp
func NewImageStore(dataDir string) *ImageStore {
	return &ImageStore{root: filepath.Join(dataDir, "webp")}
}

// NewImageStoreFromEnv creates an image store using the DATA_DIR setting
func NewImageStoreFromEnv() *ImageStore {
	return NewImageStore(config.Get("DATA_DIR", "/data"))
}

// AppImagePath returns the cache path for an installed app's rendered image
func (s *ImageStore) AppImagePath(deviceID, iname string) string {
	return filepath.Join(s.root, deviceID, iname+".webp")
}

// PushedImagePath returns the path for an ephemeral pushed image
func (s *ImageStore) PushedImagePath(deviceID, iname string) string {
	return filepath.Join(s.root, deviceID, "pushed", iname+".webp")
}

// ImagePath picks the right path for an app based on its pushed flag
func (s *ImageStore) ImagePath(deviceID, iname string, pushed bool) string {
	if pushed {
		return s.PushedImagePath(deviceID, iname)
	}
	return s.AppImagePath(deviceID, iname)
}

// SaveImage writes image bytes, creating parent directories as needed
func (s *ImageStore) SaveImage(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// ReadImage returns the stored bytes for a path
func (s *ImageStore) ReadImage(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ImageSize returns the on-disk size, or 0 when the file is missing
func (s *ImageStore) ImageSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// DeleteImage removes a single cached image; missing files are not an error
func (s *ImageStore) DeleteImage(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PurgeDevice removes a device's entire render cache directory
func (s *ImageStore) PurgeDevice(deviceID string) error {
	return os.RemoveAll(filepath.Join(s.root, deviceID))
}
