// Package resolve provides the default document resolver: identifiers map
// to files under a configured document root.
package resolve

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/pipeline"
)

// FSResolver resolves document identifiers to readable files under root.
// An identifier is a root-relative path; escaping the root is rejected.
type FSResolver struct {
	root string
}

// NewFS creates a resolver rooted at dir.
func NewFS(dir string) *FSResolver {
	return &FSResolver{root: dir}
}

// Resolve implements pipeline.Resolver.
func (r *FSResolver) Resolve(ctx context.Context, documentID string) (*pipeline.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := filepath.Clean(documentID)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return nil, faults.Validation(fmt.Errorf("document id %q escapes the document root", documentID))
	}

	path := filepath.Join(r.root, clean)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", pipeline.ErrNotFound, documentID)
		}
		return nil, faults.Validation(fmt.Errorf("stat %s: %w", documentID, err))
	}
	if info.IsDir() {
		return nil, faults.Validation(fmt.Errorf("document %s is a directory", documentID))
	}

	// Readability check: open and close. Permission problems surface
	// here instead of deep inside the pipeline.
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Validation(fmt.Errorf("open %s: %w", documentID, err))
	}
	f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		// Cheap structural validation before the document is admitted
		// into a batch. A PDF that fails here would fail parsing anyway;
		// catching it now gives the caller an immediate, classified
		// answer.
		if _, err := api.PageCountFile(path); err != nil {
			return nil, faults.Corrupt(
				fmt.Errorf("pdf validation failed for %s: %w", documentID, err),
				"the PDF appears damaged; re-export or re-scan the source",
			)
		}
	}

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &pipeline.Handle{
		DocumentID:  documentID,
		Path:        path,
		Size:        info.Size(),
		ContentType: contentType,
	}, nil
}
