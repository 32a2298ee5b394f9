package builder

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// LoadDocuments reads every regular file under dir into a document string,
// in deterministic (lexical walk) order. PDF files are reduced to their
// plain text; everything else is read as UTF-8 text. Unreadable files are
// skipped with a warning so one bad style guide doesn't sink a build.
func LoadDocuments(dir string) ([]string, error) {
	var documents []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		var text string
		var readErr error
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			text, readErr = readPDF(path)
		} else {
			text, readErr = readText(path)
		}
		if readErr != nil {
			slog.Warn("skipping unreadable document", "path", path, "error", readErr)
			return nil
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		documents = append(documents, text)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus directory %s: %w", dir, err)
	}
	return documents, nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}
