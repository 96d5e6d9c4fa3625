package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// ArchiveBlobs lists and opens archive objects.
type ArchiveBlobs interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

const archivePrefix = "archive/"

// ArchiveHandler lists and downloads uploaded archive files.
type ArchiveHandler struct {
	blobs  ArchiveBlobs
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs ArchiveBlobs, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// ListArchives returns archive objects, optionally for one kind.
// GET /api/archives?kind=orders|purchases
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	switch kind := r.URL.Query().Get("kind"); kind {
	case "":
	case "orders", "purchases":
		prefix += kind + "/"
	default:
		writeError(w, http.StatusBadRequest, "kind must be orders or purchases")
		return
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// GetArchive streams one archive file as JSON lines.
// GET /api/archives/{path...} where path is relative to archive/.
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if !validArchivePath(path) {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.blobs.Get(r.Context(), archivePrefix+path)
	if err != nil {
		writeServiceError(w, r, h.logger, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive download interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func validArchivePath(p string) bool {
	if !strings.HasPrefix(p, "orders/") && !strings.HasPrefix(p, "purchases/") {
		return false
	}
	return !strings.Contains(p, "..") && strings.HasSuffix(p, ".jsonl")
}
