// Package hugot adapts knights-analytics/hugot ONNX sessions to the
// backend.EmbeddingBackend contract, grounded on the teacher's
// core/pipeline/embedder.go DefaultEmbedder and helper/model.go
// PrepareModel.
package hugot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
)

const modelDir = "./models"

// PrepareModel downloads modelName into the local model cache if it is
// not already present, and returns its directory. onnxFilePath selects
// which exported ONNX file to fetch from the model repo; an empty
// string lets hugot use its default.
func PrepareModel(modelName, onnxFilePath string) (string, error) {
	sanitized := strings.ReplaceAll(modelName, "/", "_")
	modelPath := filepath.Join(modelDir, sanitized)

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if err := os.MkdirAll(modelDir, 0o755); err != nil {
			return "", fmt.Errorf("create model directory: %w", err)
		}
		downloadOptions := hugot.NewDownloadOptions()
		if onnxFilePath != "" {
			downloadOptions.OnnxFilePath = onnxFilePath
		}
		downloadedPath, err := hugot.DownloadModel(modelName, modelDir, downloadOptions)
		if err != nil {
			return "", fmt.Errorf("download model %s: %w", modelName, err)
		}
		modelPath = downloadedPath
	}

	return modelPath, nil
}
