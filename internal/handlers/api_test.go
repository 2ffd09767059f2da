package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	"portfolioproxy/internal/dropbox"
	"portfolioproxy/internal/gallery"
	"portfolioproxy/internal/limiter"
	"portfolioproxy/internal/scheduler"
	"portfolioproxy/pkg/types"
)

const testPrefix = "/api/dropbox"

// fakeDropbox serves list_folder and download from memory
type fakeDropbox struct {
	mu      sync.Mutex
	folders map[string][]types.FolderEntry
	files   map[string]string
}

func newFakeDropbox() *fakeDropbox {
	return &fakeDropbox{
		folders: map[string][]types.FolderEntry{"": nil},
		files:   make(map[string]string),
	}
}

func (f *fakeDropbox) addFolder(parent, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	display := parent + "/" + name
	lower := strings.ToLower(display)
	f.folders[strings.ToLower(parent)] = append(f.folders[strings.ToLower(parent)], types.FolderEntry{
		Kind:        types.KindFolder,
		Name:        name,
		PathLower:   lower,
		PathDisplay: display,
		ID:          "id:" + lower,
	})
	if _, ok := f.folders[lower]; !ok {
		f.folders[lower] = nil
	}
}

func (f *fakeDropbox) addFile(parent, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	display := parent + "/" + name
	lower := strings.ToLower(display)
	f.folders[strings.ToLower(parent)] = append(f.folders[strings.ToLower(parent)], types.FolderEntry{
		Kind:           types.KindFile,
		Name:           name,
		PathLower:      lower,
		PathDisplay:    display,
		ID:             "id:" + lower,
		Size:           2048,
		ClientModified: "2024-03-01T10:00:00Z",
	})
	f.files[lower] = content
}

func (f *fakeDropbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var arg struct {
		Path string `json:"path"`
	}
	switch r.URL.Path {
	case "/2/files/list_folder":
		json.NewDecoder(r.Body).Decode(&arg)
		entries, ok := f.folders[strings.ToLower(arg.Path)]
		if !ok {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error_summary": "path/not_found/"}`))
			return
		}
		if entries == nil {
			entries = []types.FolderEntry{}
		}
		json.NewEncoder(w).Encode(dropbox.ListFolderResult{Entries: entries})
	case "/2/files/download":
		json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg)
		content, ok := f.files[strings.ToLower(arg.Path)]
		if !ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.Write([]byte(content))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func seedPortfolio(f *fakeDropbox) {
	f.addFolder("", "Website Photos")

	f.addFile("/ProjectX", "a1.jpg", "")
	f.addFile("/ProjectX", "a2.jpg", "")
	f.addFile("/ProjectX", "a0.jpg", "")
	f.addFile("/ProjectX", "a2.json", `{"order_flag": "1", "orientation": "Landscape"}`)
	f.addFile("/ProjectX", "a0.json", `{"order_flag": 0}`)

	f.addFolder("/Website Photos", "Signs")
	f.addFile("/Website Photos/Signs", "_metadata.json", `{"order_flag": 2, "category": "Street Signs"}`)
	f.addFile("/Website Photos/Signs", "stop.jpg", "")

	f.addFolder("/Website Photos", "Harbour")
	f.addFile("/Website Photos/Harbour", "_metadata.json", `{"order_flag": 1, "title": "Boats at Rest"}`)
	f.addFile("/Website Photos/Harbour", "boat.jpg", "")

	f.addFolder("/Website Photos", "Landing Page")
}

type failingTokens struct{}

func (failingTokens) Token() (*oauth2.Token, error) {
	return nil, errors.New("invalid_grant")
}

func newTestMux(t *testing.T, f *fakeDropbox, tokens oauth2.TokenSource) *http.ServeMux {
	t.Helper()

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	if tokens == nil {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	}
	client := dropbox.New(dropbox.Config{APIURL: srv.URL, ContentURL: srv.URL}, tokens)

	runner := scheduler.New(context.Background())
	p := gallery.New(client, limiter.New("rpc", 6), limiter.New("content", 8), runner, gallery.Options{APIPrefix: testPrefix})
	t.Cleanup(func() {
		runner.Stop()
		p.Close()
	})

	mux := http.NewServeMux()
	NewAPIHandler(p).Register(mux, testPrefix)
	return mux
}

func get(t *testing.T, mux *http.ServeMux, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestAPIHandler_Files(t *testing.T) {
	f := newFakeDropbox()
	seedPortfolio(f)
	mux := newTestMux(t, f, nil)

	w := get(t, mux, testPrefix+"/files?path=/ProjectX&debug=1")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response FilesResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(response.Images) != 2 {
		t.Fatalf("Expected 2 images, got %d", len(response.Images))
	}
	if response.Images[0].Name != "a2.jpg" || response.Images[1].Name != "a1.jpg" {
		t.Errorf("Expected [a2.jpg a1.jpg], got [%s %s]", response.Images[0].Name, response.Images[1].Name)
	}
	if response.Images[0].Orientation != types.OrientationHorizontal {
		t.Errorf("Expected horizontal orientation, got %q", response.Images[0].Orientation)
	}
	if !strings.HasPrefix(response.Images[0].Thumb, testPrefix+"/thumb/") {
		t.Errorf("Expected thumb under the API prefix, got %s", response.Images[0].Thumb)
	}

	if response.Debug == nil {
		t.Fatal("Expected debug block")
	}
	if len(response.Debug.ZeroNames) != 1 || response.Debug.ZeroNames[0] != "a0.jpg" {
		t.Errorf("Expected zeroNames [a0.jpg], got %v", response.Debug.ZeroNames)
	}
	if len(response.Debug.AllImageNames) != 3 {
		t.Errorf("Expected 3 image names, got %v", response.Debug.AllImageNames)
	}
	if ord := response.Debug.SortedNames[0].Ord; ord == nil || *ord != 1 {
		t.Errorf("Expected ord 1 for a2.jpg, got %v", ord)
	}
	if response.Debug.SortedNames[1].Ord != nil {
		t.Errorf("Expected null ord for a1.jpg, got %v", *response.Debug.SortedNames[1].Ord)
	}
}

func TestAPIHandler_FilesWithoutDebug(t *testing.T) {
	f := newFakeDropbox()
	seedPortfolio(f)
	mux := newTestMux(t, f, nil)

	w := get(t, mux, testPrefix+"/files?path=/ProjectX")

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, ok := raw["_debug"]; ok {
		t.Error("Expected no _debug block without debug=1")
	}

	var images []map[string]any
	json.Unmarshal(raw["images"], &images)
	if images[1]["order"] != nil {
		t.Errorf("Expected null order, got %v", images[1]["order"])
	}
	if images[1]["orientation"] != nil {
		t.Errorf("Expected null orientation, got %v", images[1]["orientation"])
	}
}

func TestAPIHandler_WebsitePhotos(t *testing.T) {
	f := newFakeDropbox()
	seedPortfolio(f)
	mux := newTestMux(t, f, nil)

	w := get(t, mux, testPrefix+"/website-photos")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Card-Cache"); got != "SWR" {
		t.Errorf("Expected X-Card-Cache SWR, got %q", got)
	}

	var cards []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&cards); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("Expected 2 cards without the page folder, got %d", len(cards))
	}
	if cards[0]["name"] != "Harbour" || cards[1]["name"] != "Signs" {
		t.Errorf("Expected [Harbour Signs], got [%v %v]", cards[0]["name"], cards[1]["name"])
	}
	meta, ok := cards[0]["metadata"].(map[string]any)
	if !ok || meta["title"] != "Boats at Rest" {
		t.Errorf("Expected full metadata document, got %v", cards[0]["metadata"])
	}
}

func TestAPIHandler_ByCategory(t *testing.T) {
	f := newFakeDropbox()
	seedPortfolio(f)
	mux := newTestMux(t, f, nil)

	w := get(t, mux, testPrefix+"/by-category?category=street-signs&debug=1")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response CategoryResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Category != "street-signs" {
		t.Errorf("Expected category echoed back, got %q", response.Category)
	}
	if len(response.Images) != 1 || response.Images[0].Folder == nil {
		t.Fatalf("Expected one image with folder, got %+v", response.Images)
	}
	if response.Images[0].Folder.Name != "Signs" {
		t.Errorf("Expected folder Signs, got %s", response.Images[0].Folder.Name)
	}
	if response.Debug == nil || response.Debug.Folder != "/Website Photos/Signs" {
		t.Errorf("Expected debug folder, got %+v", response.Debug)
	}
}

func TestAPIHandler_FolderResolvers(t *testing.T) {
	f := newFakeDropbox()
	seedPortfolio(f)
	mux := newTestMux(t, f, nil)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantFolder string
	}{
		{"category", "/folder-by-category?category=Street-Signs", http.StatusOK, "Signs"},
		{"project by name", "/folder-by-project?project=harbour", http.StatusOK, "Harbour"},
		{"project by title", "/folder-by-project?project=boats-at_rest", http.StatusOK, "Harbour"},
		{"unknown category", "/folder-by-category?category=weddings", http.StatusNotFound, ""},
		{"missing category", "/folder-by-category", http.StatusBadRequest, ""},
		{"missing project", "/folder-by-project?project=%20", http.StatusBadRequest, ""},
		{"missing by-category", "/by-category", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, mux, testPrefix+tt.target)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status code %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				var response ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&response); err != nil || response.Error == "" {
					t.Errorf("Expected error body, got %s", w.Body.String())
				}
				return
			}
			var response FolderResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if response.Folder.Name != tt.wantFolder {
				t.Errorf("Expected folder %s, got %s", tt.wantFolder, response.Folder.Name)
			}
		})
	}
}

func TestAPIHandler_RootNotFound(t *testing.T) {
	f := newFakeDropbox()
	f.addFolder("", "Camera Uploads")
	mux := newTestMux(t, f, nil)

	w := get(t, mux, testPrefix+"/website-photos")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestAPIHandler_AuthFailure(t *testing.T) {
	f := newFakeDropbox()
	seedPortfolio(f)
	mux := newTestMux(t, f, failingTokens{})

	w := get(t, mux, testPrefix+"/website-photos")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status code %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var response ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.Contains(response.Details, "invalid_grant") {
		t.Errorf("Expected details to carry the token error, got %q", response.Details)
	}
}

func TestAPIHandler_ListingFailure(t *testing.T) {
	f := newFakeDropbox()
	mux := newTestMux(t, f, nil)

	w := get(t, mux, testPrefix+"/files?path=/nowhere")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, w.Code)
	}
}
