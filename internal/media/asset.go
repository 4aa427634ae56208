// Package media defines the image asset handed between the acquisition
// sources, the workflow and the submission layer.
package media

import (
	"crypto/sha1"
	"encoding/hex"
)

// Origin records where an asset came from.
type Origin string

const (
	OriginUpload Origin = "upload"
	OriginCamera Origin = "camera"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginUpload || o == OriginCamera
}

// Asset is an immutable image plus its provenance. The zero value is not
// usable; build assets with NewAsset.
type Asset struct {
	data     []byte
	mimeType string
	origin   Origin
	name     string
}

// NewAsset copies data so later changes by the caller cannot leak in.
func NewAsset(data []byte, mimeType string, origin Origin, name string) *Asset {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Asset{data: buf, mimeType: mimeType, origin: origin, name: name}
}

// Bytes returns a copy of the encoded image.
func (a *Asset) Bytes() []byte {
	buf := make([]byte, len(a.data))
	copy(buf, a.data)
	return buf
}

func (a *Asset) MIMEType() string { return a.mimeType }
func (a *Asset) Origin() Origin   { return a.origin }
func (a *Asset) Name() string     { return a.name }
func (a *Asset) Size() int        { return len(a.data) }

// SHA1 returns the hex digest of the image bytes.
func (a *Asset) SHA1() string {
	sum := sha1.Sum(a.data)
	return hex.EncodeToString(sum[:])
}

// WithOrigin returns a new asset sharing the same bytes but tagged with origin.
// Sharing is safe because neither asset ever mutates its buffer.
func (a *Asset) WithOrigin(origin Origin) *Asset {
	return &Asset{data: a.data, mimeType: a.mimeType, origin: origin, name: a.name}
}

// Info is the serializable description of an asset, without its bytes.
type Info struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Origin   Origin `json:"origin"`
	Size     int    `json:"size"`
	SHA1     string `json:"sha1"`
}

// Info describes the asset for logs and API responses.
func (a *Asset) Info() Info {
	return Info{
		Name:     a.name,
		MIMEType: a.mimeType,
		Origin:   a.origin,
		Size:     len(a.data),
		SHA1:     a.SHA1(),
	}
}
