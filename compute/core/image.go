package core

import (
	"github.com/google/uuid"
)

// ImageRef identifies a GPU image owned by the update context. The handle
// changes whenever the image is replaced, for example on resize.
type ImageRef struct {
	Handle uuid.UUID
	Width  uint32
	Height uint32
}

func NewImageRef(width, height uint32) ImageRef {
	return ImageRef{Handle: uuid.New(), Width: width, Height: height}
}

func (r ImageRef) IsZero() bool {
	return r.Handle == uuid.Nil
}

// Images are the two image handles exposed to the display and inspection layers.
type Images struct {
	Output  ImageRef
	Weights ImageRef
}

func NewImages() *Images {
	return &Images{
		Output:  NewImageRef(DomainWidth, DomainHeight),
		Weights: NewImageRef(MaxFlavours, MaxFlavours),
	}
}

// ResizeOutput replaces the output image, reassigning its handle.
func (im *Images) ResizeOutput(width, height uint32) {
	im.Output = NewImageRef(width, height)
}
