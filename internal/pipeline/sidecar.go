package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"remix-studio/internal/model"
)

// SidecarPath is the companion JSON path of a rendered video.
func SidecarPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".json"
}

// WriteSidecar stores the ProcessedVideo record next to the output file.
func WriteSidecar(pv *model.ProcessedVideo) (string, error) {
	data, err := json.MarshalIndent(pv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	path := SidecarPath(pv.Path)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// ReadSidecar loads a record written by WriteSidecar.
func ReadSidecar(path string) (*model.ProcessedVideo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pv model.ProcessedVideo
	if err := json.Unmarshal(data, &pv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &pv, nil
}
