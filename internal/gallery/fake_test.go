package gallery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"portfolioproxy/internal/dropbox"
	"portfolioproxy/pkg/types"
)

// fakeRemote is an in-memory Dropbox account
type fakeRemote struct {
	mu        sync.Mutex
	folders   map[string][]types.FolderEntry
	files     map[string]string
	failing   map[string]bool
	downloads map[string]int
	lists     int
	pageSize  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		folders:   make(map[string][]types.FolderEntry),
		files:     make(map[string]string),
		failing:   make(map[string]bool),
		downloads: make(map[string]int),
		pageSize:  2,
	}
}

func folderEntry(parent, name string) types.FolderEntry {
	display := strings.TrimSuffix(parent, "/") + "/" + name
	return types.FolderEntry{
		Kind:        types.KindFolder,
		Name:        name,
		PathLower:   strings.ToLower(display),
		PathDisplay: display,
		ID:          "id:" + strings.ToLower(display),
	}
}

func fileEntry(parent, name, modified string) types.FolderEntry {
	display := strings.TrimSuffix(parent, "/") + "/" + name
	return types.FolderEntry{
		Kind:           types.KindFile,
		Name:           name,
		PathLower:      strings.ToLower(display),
		PathDisplay:    display,
		ID:             "id:" + strings.ToLower(display),
		Size:           1024,
		ClientModified: modified,
		ServerModified: modified,
	}
}

// addFolder registers a folder under parent and returns its entry
func (f *fakeRemote) addFolder(parent, name string) types.FolderEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := folderEntry(parent, name)
	f.folders[strings.ToLower(parent)] = append(f.folders[strings.ToLower(parent)], e)
	if _, ok := f.folders[e.PathLower]; !ok {
		f.folders[e.PathLower] = nil
	}
	return e
}

// addFile registers a file under parent with optional content
func (f *fakeRemote) addFile(parent, name, modified, content string) types.FolderEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := fileEntry(parent, name, modified)
	f.folders[strings.ToLower(parent)] = append(f.folders[strings.ToLower(parent)], e)
	f.files[e.PathLower] = content
	return e
}

func (f *fakeRemote) entries(path string) []types.FolderEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.FolderEntry(nil), f.folders[strings.ToLower(path)]...)
}

func (f *fakeRemote) downloadCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[strings.ToLower(path)]
}

func (f *fakeRemote) page(path string, offset int) (*dropbox.ListFolderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	all, ok := f.folders[strings.ToLower(path)]
	if !ok {
		return nil, &dropbox.APIError{Endpoint: "files/list_folder", Status: 409, Body: "path/not_found/"}
	}
	end := offset + f.pageSize
	if end > len(all) {
		end = len(all)
	}
	res := &dropbox.ListFolderResult{Entries: append([]types.FolderEntry(nil), all[offset:end]...)}
	if end < len(all) {
		res.HasMore = true
		res.Cursor = path + "|" + strconv.Itoa(end)
	}
	return res, nil
}

func (f *fakeRemote) ListFolder(ctx context.Context, path string) (*dropbox.ListFolderResult, error) {
	return f.page(path, 0)
}

func (f *fakeRemote) ListFolderContinue(ctx context.Context, cursor string) (*dropbox.ListFolderResult, error) {
	path, off, ok := strings.Cut(cursor, "|")
	if !ok {
		return nil, fmt.Errorf("bad cursor %q", cursor)
	}
	n, err := strconv.Atoi(off)
	if err != nil {
		return nil, err
	}
	return f.page(path, n)
}

func (f *fakeRemote) Download(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(path)
	f.downloads[key]++
	if f.failing[key] {
		return nil, &dropbox.APIError{Endpoint: "files/download", Status: 500}
	}
	content, ok := f.files[key]
	if !ok {
		return nil, &dropbox.APIError{Endpoint: "files/download", Status: 409, Body: "path/not_found/"}
	}
	return []byte(content), nil
}
