package tiles

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"sort"
	"sync"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrTileDecode = errors.New("tile decode error")

// Grid is one decoded tile, row-major, Size x Size.
type Grid struct {
	Size int
	Data []float32
}

// PixelFunc turns one non-premultiplied RGB sample into meters.
type PixelFunc func(r, g, b uint8) float32

// Terrarium: R*256 + G + B/256 - 32768.
func Terrarium(r, g, b uint8) float32 {
	return float32(r)*256 + float32(g) + float32(b)/256 - 32768
}

// MapboxTerrainRGB: -10000 + (R*65536 + G*256 + B) * 0.1.
func MapboxTerrainRGB(r, g, b uint8) float32 {
	return float32(-10000 + float64(int(r)<<16|int(g)<<8|int(b))*0.1)
}

var (
	encMu     sync.RWMutex
	encodings = map[string]PixelFunc{
		"terrarium": Terrarium,
		"mapbox":    MapboxTerrainRGB,
	}
)

func RegisterEncoding(name string, f PixelFunc) {
	encMu.Lock()
	defer encMu.Unlock()
	encodings[name] = f
}

func Encodings() []string {
	encMu.RLock()
	defer encMu.RUnlock()
	out := make([]string, 0, len(encodings))
	for k := range encodings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decoder converts elevation-encoded tile images into grids.
type Decoder struct {
	size  int
	pixel PixelFunc
}

func NewDecoder(encoding string, tileSize int) (*Decoder, error) {
	if encoding == "" {
		encoding = "terrarium"
	}
	encMu.RLock()
	f, ok := encodings[encoding]
	encMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tile encoding %q (known: %v)", encoding, Encodings())
	}
	if tileSize <= 0 {
		return nil, fmt.Errorf("tile size must be > 0 (got %d)", tileSize)
	}
	return &Decoder{size: tileSize, pixel: f}, nil
}

func (d *Decoder) TileSize() int { return d.size }

func (d *Decoder) Decode(b []byte) (Grid, error) {
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return Grid{}, fmt.Errorf("%w: %v", ErrTileDecode, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != d.size || bounds.Dy() != d.size {
		return Grid{}, fmt.Errorf("%w: %s tile is %dx%d, want %dx%d",
			ErrTileDecode, format, bounds.Dx(), bounds.Dy(), d.size, d.size)
	}

	out := Grid{Size: d.size, Data: make([]float32, d.size*d.size)}
	switch src := img.(type) {
	case *image.NRGBA:
		d.fromPix(out.Data, src.Pix, src.Stride)
	case *image.RGBA:
		// opaque terrain tiles have identical premultiplied and straight values
		if src.Opaque() {
			d.fromPix(out.Data, src.Pix, src.Stride)
			break
		}
		d.fromImage(out.Data, img, bounds)
	default:
		d.fromImage(out.Data, img, bounds)
	}
	return out, nil
}

func (d *Decoder) fromPix(dst []float32, pix []uint8, stride int) {
	for y := 0; y < d.size; y++ {
		row := pix[y*stride : y*stride+d.size*4]
		for x := 0; x < d.size; x++ {
			p := row[x*4 : x*4+4 : x*4+4]
			dst[y*d.size+x] = d.pixel(p[0], p[1], p[2])
		}
	}
}

func (d *Decoder) fromImage(dst []float32, img image.Image, bounds image.Rectangle) {
	for y := 0; y < d.size; y++ {
		for x := 0; x < d.size; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			dst[y*d.size+x] = d.pixel(c.R, c.G, c.B)
		}
	}
}
