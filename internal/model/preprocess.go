package model

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const channels = 3

// DefaultMaxImagePixels caps width*height of an upload. The header is checked
// before any pixel data is decoded.
const DefaultMaxImagePixels int64 = 64 << 20

// Preprocess decodes raw image bytes and turns them into a (1, size, size, 3)
// tensor with every channel scaled into [0, 1]. The aspect ratio is not kept.
func Preprocess(data []byte, size int) (*Tensor, error) {
	return PreprocessWithLimit(data, size, DefaultMaxImagePixels)
}

// PreprocessWithLimit is Preprocess with an explicit pixel cap; maxPixels <= 0
// falls back to DefaultMaxImagePixels.
func PreprocessWithLimit(data []byte, size int, maxPixels int64) (*Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: target size %d", errInvalidMetadata, size)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}

	img, err := decode(data, maxPixels)
	if err != nil {
		return nil, err
	}

	rgb, err := toRGB(img)
	if err != nil {
		return nil, err
	}

	resized := resize.Resize(uint(size), uint(size), rgb, resize.Bicubic)

	bounds := resized.Bounds()
	if bounds.Dx() != size || bounds.Dy() != size {
		return nil, fmt.Errorf("%w: resized to %dx%d, want %dx%d", ErrDecode, bounds.Dx(), bounds.Dy(), size, size)
	}

	return &Tensor{
		Shape: []int64{1, int64(size), int64(size), channels},
		Data:  normalize(resized),
	}, nil
}

func decode(data []byte, maxPixels int64) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrDecode)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrDecode, mtype.String())
	}

	header, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if header.Width <= 0 || header.Height <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrDecode, header.Width, header.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// toRGB copies img into an opaque RGBA canvas. Alpha is dropped, not
// composited, so transparent pixels keep their color.
func toRGB(img image.Image) (*image.RGBA, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}

	width, height := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(image.Rect(0, 0, width, height))

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < height; y++ {
			from := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			to := out.PixOffset(0, y)
			copy(out.Pix[to:to+width*4], src.Pix[from:from+width*4])
		}
		for i := 3; i < len(out.Pix); i += 4 {
			out.Pix[i] = 0xff
		}
		return out, nil
	case interface{ Opaque() bool }:
		// Premultiplied and straight alpha agree when every pixel is opaque.
		if src.Opaque() {
			draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
			return out, nil
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			out.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return out, nil
}

// normalize flattens img in row-major HWC order.
func normalize(img image.Image) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]float32, 0, width*height*channels)

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < height; y++ {
			start := rgba.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := rgba.Pix[start : start+width*4]
			for x := 0; x < width; x++ {
				px := row[x*4 : x*4+4]
				data = append(data, float32(px[0])/255.0, float32(px[1])/255.0, float32(px[2])/255.0)
			}
		}
		return data
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data = append(data, float32(r>>8)/255.0, float32(g>>8)/255.0, float32(b>>8)/255.0)
		}
	}
	return data
}
