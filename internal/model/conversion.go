package model

import (
	"maps"
	"time"
)

// Kind identifies the tool a conversion belongs to.
// Every kind owns a separate pending-conversion store.
type Kind string

const (
	KindImage    Kind = "image"     // image format conversion
	KindCrop     Kind = "crop"      // image cropping
	KindAudio    Kind = "audio"     // audio format conversion
	KindGifVideo Kind = "gif_video" // gif to video and video to gif
	KindOCR      Kind = "ocr"       // text extraction from images
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindImage, KindCrop, KindAudio, KindGifVideo, KindOCR}

// ParseKind converts a raw string into a Kind.
// It returns false for anything outside the closed set.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}

	return "", false
}

// Well-known parameter names shared by converters and artifact naming.
const (
	ParamTargetFormat = "target_format"
	ParamFilename     = "filename"
)

// Params maps option names to values (target format, quality, fps, crop rectangle, ...).
type Params map[string]string

// Get returns the value stored under key or def when it is absent or empty.
func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}

	return def
}

// Clone returns an independent copy of the params.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}

	return maps.Clone(p)
}

// Record is a staged conversion waiting to be downloaded.
type Record struct {
	Token       string    `json:"token"`
	Kind        Kind      `json:"kind"`
	SourcePath  string    `json:"-"`
	Params      Params    `json:"params"`
	OutputPath  string    `json:"-"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Consumed    bool      `json:"consumed"`
}

// Evictable reports whether the record may be removed by a sweep:
// it was already delivered or it outlived the retention window.
func (r Record) Evictable(now time.Time, retention time.Duration) bool {
	return r.Consumed || now.Sub(r.CreatedAt) > retention
}
