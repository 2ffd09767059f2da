package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"portfolioproxy/internal/dropbox"
	"portfolioproxy/internal/gallery"
	"portfolioproxy/internal/logging"
	"portfolioproxy/pkg/types"
)

// Portfolio is the read side of the gallery the API serves
type Portfolio interface {
	Cards(ctx context.Context) ([]*types.ProjectCard, error)
	Gallery(ctx context.Context, path string) (*gallery.GalleryView, error)
	Images(annotated []gallery.AnnotatedImage, folder *types.FolderRef) []types.Image
	FindByCategory(ctx context.Context, slug string) (types.FolderEntry, error)
	FindByProject(ctx context.Context, name string) (types.FolderEntry, error)
}

type APIHandler struct {
	portfolio Portfolio
}

func NewAPIHandler(portfolio Portfolio) *APIHandler {
	return &APIHandler{
		portfolio: portfolio,
	}
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type FilesResponse struct {
	Images []types.Image `json:"images"`
	Debug  *FilesDebug   `json:"_debug,omitempty"`
}

// FilesDebug exposes the index and sort keys behind a gallery
type FilesDebug struct {
	ZeroNames     []string     `json:"zeroNames"`
	AllImageNames []string     `json:"allImageNames"`
	SortedNames   []SortedName `json:"sortedNames"`
}

type SortedName struct {
	Name        string            `json:"name"`
	Ord         *float64          `json:"ord"`
	Seq         *float64          `json:"seq"`
	T           *float64          `json:"t"`
	Orientation types.Orientation `json:"orientation"`
	Project     *string           `json:"project"`
}

type CategoryResponse struct {
	Images   []types.Image  `json:"images"`
	Category string         `json:"category"`
	Debug    *CategoryDebug `json:"_debug,omitempty"`
}

type CategoryDebug struct {
	MS     int64  `json:"ms"`
	Folder string `json:"folder"`
}

type FolderResponse struct {
	Folder   types.FolderRef `json:"folder"`
	Category string          `json:"category,omitempty"`
	Project  string          `json:"project,omitempty"`
}

// Register mounts the JSON routes under prefix
func (h *APIHandler) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/website-photos", h.handleWebsitePhotos)
	mux.HandleFunc("GET "+prefix+"/files", h.handleFiles)
	mux.HandleFunc("GET "+prefix+"/by-category", h.handleByCategory)
	mux.HandleFunc("GET "+prefix+"/folder-by-category", h.handleFolderByCategory)
	mux.HandleFunc("GET "+prefix+"/folder-by-project", h.handleFolderByProject)
}

// GET /website-photos - project cards for the home page
func (h *APIHandler) handleWebsitePhotos(w http.ResponseWriter, r *http.Request) {
	cards, err := h.portfolio.Cards(r.Context())
	if err != nil {
		h.sendFailure(w, r, "Unable to fetch website photos", err)
		return
	}
	if cards == nil {
		cards = []*types.ProjectCard{}
	}

	w.Header().Set("X-Card-Cache", "SWR")
	h.sendJSON(w, http.StatusOK, cards)
}

// GET /files?path=&debug=1 - sorted images of one folder
func (h *APIHandler) handleFiles(w http.ResponseWriter, r *http.Request) {
	folderPath := r.URL.Query().Get("path")

	view, err := h.portfolio.Gallery(r.Context(), folderPath)
	if err != nil {
		h.sendFailure(w, r, "Unable to fetch files", err)
		return
	}

	response := FilesResponse{Images: h.portfolio.Images(view.Images, nil)}
	if isDebug(r) {
		response.Debug = filesDebug(view)
	}
	h.sendJSON(w, http.StatusOK, response)
}

// GET /by-category?category=&debug=1 - images of the folder whose category matches
func (h *APIHandler) handleByCategory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		h.sendError(w, http.StatusBadRequest, "Missing category param", "")
		return
	}

	folder, err := h.portfolio.FindByCategory(r.Context(), category)
	if err != nil {
		h.sendFailure(w, r, "Unable to fetch images by category", err)
		return
	}

	view, err := h.portfolio.Gallery(r.Context(), folder.Ref())
	if err != nil {
		h.sendFailure(w, r, "Unable to fetch images by category", err)
		return
	}

	ref := gallery.FolderRef(folder)
	response := CategoryResponse{
		Images:   h.portfolio.Images(view.Images, &ref),
		Category: category,
	}
	if isDebug(r) {
		response.Debug = &CategoryDebug{
			MS:     time.Since(start).Milliseconds(),
			Folder: folder.DisplayRef(),
		}
	}
	h.sendJSON(w, http.StatusOK, response)
}

// GET /folder-by-category?category=
func (h *APIHandler) handleFolderByCategory(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		h.sendError(w, http.StatusBadRequest, "Missing category param", "")
		return
	}

	folder, err := h.portfolio.FindByCategory(r.Context(), category)
	if err != nil {
		h.sendFailure(w, r, "Unable to resolve category to folder", err)
		return
	}

	h.sendJSON(w, http.StatusOK, FolderResponse{
		Folder:   gallery.FolderRef(folder),
		Category: category,
	})
}

// GET /folder-by-project?project=
func (h *APIHandler) handleFolderByProject(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if project == "" {
		h.sendError(w, http.StatusBadRequest, "Missing project param", "")
		return
	}

	folder, err := h.portfolio.FindByProject(r.Context(), project)
	if err != nil {
		h.sendFailure(w, r, "Unable to resolve project to folder", err)
		return
	}

	h.sendJSON(w, http.StatusOK, FolderResponse{
		Folder:  gallery.FolderRef(folder),
		Project: project,
	})
}

func isDebug(r *http.Request) bool {
	return r.URL.Query().Get("debug") == "1"
}

func filesDebug(view *gallery.GalleryView) *FilesDebug {
	d := &FilesDebug{
		ZeroNames:     view.Index.SortedZeroNames(),
		AllImageNames: view.ImageNames(),
		SortedNames:   make([]SortedName, 0, len(view.Images)),
	}
	if d.ZeroNames == nil {
		d.ZeroNames = []string{}
	}
	if d.AllImageNames == nil {
		d.AllImageNames = []string{}
	}
	for _, img := range view.Images {
		s := SortedName{
			Name:        img.Entry.Name,
			Ord:         finiteOrNil(img.Order),
			Seq:         finiteOrNil(img.Sequence),
			T:           finiteOrNil(img.Modified),
			Orientation: img.Orientation,
		}
		if img.Project != "" {
			project := img.Project
			s.Project = &project
		}
		d.SortedNames = append(d.SortedNames, s)
	}
	return d
}

// finiteOrNil maps the +Inf "unknown" sort key to JSON null
func finiteOrNil(f float64) *float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

// statusFor maps domain errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, gallery.ErrRootNotFound), errors.Is(err, gallery.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(err, dropbox.ErrAuth):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) sendFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusNotFound:
		logging.WithContext(r.Context()).Info(message, zap.Error(err))
		h.sendError(w, status, notFoundMessage(err), "")
	default:
		logging.WithContext(r.Context()).Error(message, zap.Error(err))
		h.sendError(w, status, message, err.Error())
	}
}

func notFoundMessage(err error) string {
	if errors.Is(err, gallery.ErrRootNotFound) {
		return "Root folder not found"
	}
	return err.Error()
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *APIHandler) sendError(w http.ResponseWriter, statusCode int, errorMsg, details string) {
	h.sendJSON(w, statusCode, ErrorResponse{
		Error:   errorMsg,
		Details: details,
	})
}
