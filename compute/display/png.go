package display

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/gekko3d/particlelife/compute/gpu"
	"github.com/gekko3d/particlelife/compute/graph"
)

var ErrWindowClosed = errors.New("display window closed")

// Logger is the subset of the app logger used by the display sinks.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any) {}
func (nopLogger) Warnf(string, ...any) {}

// TextureReader copies a texture back to host memory. gpu.Device implements it.
type TextureReader interface {
	ReadTexture(id gpu.TextureID) ([]byte, error)
}

// PNGSink writes the output image to numbered PNG files.
type PNGSink struct {
	Dir   string
	Every uint64
	Scale int

	reader  TextureReader
	images  *gpu.ImageStore
	log     Logger
	written int
}

func NewPNGSink(reader TextureReader, images *gpu.ImageStore, dir string, every uint64, scale int, log Logger) (*PNGSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("png sink: %w", err)
	}
	if log == nil {
		log = nopLogger{}
	}
	return &PNGSink{
		Dir:    dir,
		Every:  max(every, 1),
		Scale:  max(scale, 1),
		reader: reader,
		images: images,
		log:    log,
	}, nil
}

// Present writes every Every-th frame.
func (s *PNGSink) Present(f *graph.Frame) error {
	if f.Number%s.Every != 0 {
		return nil
	}
	tex, ok := s.images.Resolve(f.Output.Handle)
	if !ok {
		return fmt.Errorf("output image %s: %w", f.Output.Handle, gpu.ErrUnknownResource)
	}
	pix, err := s.reader.ReadTexture(tex)
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}

	img, err := toImage(pix, int(f.Output.Width), int(f.Output.Height), s.Scale)
	if err != nil {
		return err
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("frame_%06d.png", f.Number))
	if err := writePNG(path, img); err != nil {
		return err
	}
	s.written++
	s.log.Infof("wrote %s", path)
	return nil
}

// Written counts files written so far.
func (s *PNGSink) Written() int { return s.written }

func toImage(pix []byte, width, height, scale int) (image.Image, error) {
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("output is %d bytes, want %dx%d RGBA", len(pix), width, height)
	}
	src := &image.RGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	if scale == 1 {
		return src, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, width*scale, height*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
