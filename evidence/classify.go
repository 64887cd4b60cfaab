package evidence

import (
	"path/filepath"
	"strings"
)

// Kind is the media classification assigned to an evidence file.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
	KindOther Kind = "other"
)

// FileMeta carries the client-declared metadata for a selected file.
type FileMeta struct {
	Filename    string
	ContentType string
	Size        int64
	Width       int
	Height      int
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".heic": true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
	".mkv":  true,
	".m4v":  true,
}

// Classify decides whether a file is a photo, a video, or unsupported.
// The declared media type wins; the filename extension is consulted only
// when the media type is missing or matches neither family.
func Classify(meta FileMeta) Kind {
	ct := strings.ToLower(strings.TrimSpace(meta.ContentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindPhoto
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	}

	ext := strings.ToLower(filepath.Ext(meta.Filename))
	switch {
	case imageExtensions[ext]:
		return KindPhoto
	case videoExtensions[ext]:
		return KindVideo
	}
	return KindOther
}
