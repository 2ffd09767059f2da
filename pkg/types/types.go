package types

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// EntryKind distinguishes files from folders in a remote listing
type EntryKind string

const (
	KindFile   EntryKind = "file"
	KindFolder EntryKind = "folder"
)

// FolderEntry is a snapshot of one remote folder entry at listing time
type FolderEntry struct {
	Kind           EntryKind `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ID             string    `json:"id,omitempty"`
	Size           int64     `json:"size,omitempty"`
	ClientModified string    `json:"client_modified,omitempty"`
	ServerModified string    `json:"server_modified,omitempty"`
	Rev            string    `json:"rev,omitempty"`
}

func (e FolderEntry) IsFile() bool   { return e.Kind == KindFile }
func (e FolderEntry) IsFolder() bool { return e.Kind == KindFolder }

// LowerName returns the entry name folded to lower case
func (e FolderEntry) LowerName() string {
	return strings.ToLower(e.Name)
}

// Ref returns the path used to address the entry remotely
func (e FolderEntry) Ref() string {
	if e.PathLower != "" {
		return e.PathLower
	}
	return e.PathDisplay
}

// DisplayRef prefers the display path, falling back to the lower-case path
func (e FolderEntry) DisplayRef() string {
	if e.PathDisplay != "" {
		return e.PathDisplay
	}
	return e.PathLower
}

// Metadata is a decoded sidecar or project-level metadata document.
// OrderFlag and Orientation keep their raw textual form; callers normalize them.
type Metadata struct {
	OrderFlag   string
	Orientation string
	Project     string
	LinkedImage string
	Category    string
	Title       string

	raw json.RawMessage
}

// ParseMetadata extracts the known fields from a strict JSON document.
// Field values are read regardless of their JSON type, so "1" and 1 both yield "1".
func ParseMetadata(doc []byte) *Metadata {
	m := &Metadata{raw: append(json.RawMessage(nil), doc...)}
	m.OrderFlag = rawField(doc, "order_flag")
	if m.OrderFlag == "" {
		m.OrderFlag = rawField(doc, "order")
	}
	m.Orientation = rawField(doc, "orientation")
	m.Project = strings.TrimSpace(rawField(doc, "project"))
	m.LinkedImage = rawField(doc, "linked_image")
	m.Category = rawField(doc, "category")
	m.Title = rawField(doc, "title")
	return m
}

func rawField(doc []byte, key string) string {
	r := gjson.GetBytes(doc, key)
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return r.String()
}

// MarshalJSON emits the whole parsed document so every field reaches the client
func (m Metadata) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return []byte("null"), nil
	}
	return m.raw, nil
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	*m = *ParseMetadata(b)
	return nil
}

// Orientation is the normalized layout hint carried by a sidecar
type Orientation string

const (
	OrientationNone       Orientation = ""
	OrientationHorizontal Orientation = "horizontal"
	OrientationSquare     Orientation = "square"
)

func (o Orientation) MarshalJSON() ([]byte, error) {
	if o == OrientationNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(o))
}

// FolderRef identifies a project folder in API responses
type FolderRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// ProjectCard is the home-page summary of one project folder
type ProjectCard struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Thumbnail string    `json:"thumbnail"`
	Metadata  *Metadata `json:"metadata"`
	Order     *int      `json:"order"`

	// ThumbnailPath is the remote path behind Thumbnail, kept for prewarming
	ThumbnailPath string `json:"-"`
}

// Image is one gallery entry as served to the frontend
type Image struct {
	URL            string      `json:"url"`
	Display        string      `json:"display"`
	Thumb          string      `json:"thumb"`
	Name           string      `json:"name"`
	Path           string      `json:"path"`
	Size           int64       `json:"size"`
	ClientModified string      `json:"client_modified"`
	Order          *float64    `json:"order"`
	IsZero         bool        `json:"is_zero"`
	Orientation    Orientation `json:"orientation"`
	Project        *string     `json:"project"`
	Folder         *FolderRef  `json:"folder,omitempty"`
}
