package embedpipeline

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fortemi/core/internal/model"
)

// DetectDocumentType runs the §4.4 priority cascade: explicit id on the
// note, then filename pattern, then a MIME sniff of the leading bytes
// (http.DetectContentType, which also covers magic-byte signatures), then
// a content heuristic, finally falling back to plain_text.
func DetectDocumentType(explicitID, filename string, content []byte, types []model.DocumentType) model.DocumentType {
	if explicitID != "" {
		for _, dt := range types {
			if dt.ID == explicitID {
				return dt
			}
		}
	}

	if filename != "" {
		for _, dt := range types {
			for _, pattern := range dt.FilenamePatterns {
				if ok, _ := filepath.Match(pattern, filepath.Base(filename)); ok {
					return dt
				}
			}
		}
	}

	mime := http.DetectContentType(content)
	for _, dt := range types {
		for _, m := range dt.MIMETypes {
			if strings.EqualFold(m, mime) || strings.HasPrefix(mime, m) {
				return dt
			}
		}
	}

	if dt, ok := sniffByContent(content, types); ok {
		return dt
	}

	return fallbackPlainText(types)
}

// sniffByContent applies lightweight structural heuristics (markdown
// headings, code fences, JSON braces) when MIME sniffing is
// inconclusive, e.g. a .txt upload that is actually markdown.
func sniffByContent(content []byte, types []model.DocumentType) (model.DocumentType, bool) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return model.DocumentType{}, false
	}

	switch {
	case trimmed[0] == '{' || trimmed[0] == '[':
		return findByID("json", types)
	case bytes.Contains(trimmed, []byte("```")) || bytes.HasPrefix(trimmed, []byte("# ")):
		return findByID("markdown", types)
	}
	return model.DocumentType{}, false
}

func findByID(id string, types []model.DocumentType) (model.DocumentType, bool) {
	for _, dt := range types {
		if dt.ID == id {
			return dt, true
		}
	}
	return model.DocumentType{}, false
}

func fallbackPlainText(types []model.DocumentType) model.DocumentType {
	if dt, ok := findByID("plain_text", types); ok {
		return dt
	}
	return model.DocumentType{ID: "plain_text", ChunkStrategy: model.ChunkParagraph}
}
