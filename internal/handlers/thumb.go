package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"portfolioproxy/internal/dropbox"
	"portfolioproxy/internal/logging"
	"portfolioproxy/internal/thumbs"
)

// Thumbnailer renders negotiated thumbnails and direct links
type Thumbnailer interface {
	Fetch(ctx context.Context, path, size string, want thumbs.Format) ([]byte, thumbs.Format, error)
	TemporaryLink(ctx context.Context, path string) (string, error)
}

var sizeTag = regexp.MustCompile(`^w\d+h\d+$`)

type ThumbHandler struct {
	thumbs Thumbnailer
}

func NewThumbHandler(t Thumbnailer) *ThumbHandler {
	return &ThumbHandler{thumbs: t}
}

// Register mounts the thumbnail route under prefix
func (h *ThumbHandler) Register(mux *http.ServeMux, prefix string) {
	mux.Handle("GET "+prefix+"/thumb/{encoded}", h)
}

// GET /thumb/{encoded}?s=&r= - thumbnail bytes in the best accepted format
func (h *ThumbHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path, err := thumbs.DecodePath(r.PathValue("encoded"))
	if err != nil || path == "" {
		http.Error(w, "Invalid thumbnail reference", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	size := query.Get("s")
	if !sizeTag.MatchString(size) {
		size = thumbs.DefaultSize
	}
	want := thumbs.Negotiate(r.Header.Get("Accept"))

	data, format, err := h.thumbs.Fetch(r.Context(), path, size, want)
	if err != nil {
		h.fallback(w, r, path, err)
		return
	}

	etag := thumbs.ETag(data)
	header := w.Header()
	header.Set("ETag", etag)
	header.Set("Vary", "Accept")
	if query.Has("r") {
		header.Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		header.Set("Cache-Control", "public, max-age=14400, stale-while-revalidate=86400")
	}

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	header.Set("Content-Type", format.MIME())
	header.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// fallback redirects to a temporary link when no thumbnail could be rendered
func (h *ThumbHandler) fallback(w http.ResponseWriter, r *http.Request, path string, cause error) {
	logger := logging.WithContext(r.Context())

	link, err := h.thumbs.TemporaryLink(r.Context(), path)
	if err == nil && link != "" {
		logger.Warn("Thumbnail failed, redirecting to temporary link",
			zap.String("path", path),
			zap.Error(cause),
		)
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, link, http.StatusFound)
		return
	}

	logger.Error("Thumbnail unavailable",
		zap.String("path", path),
		zap.Error(errors.Join(cause, err)),
	)
	if errors.Is(cause, dropbox.ErrAuth) || errors.Is(err, dropbox.ErrAuth) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusBadGateway)
}
