package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"vigil/internal/history"
	"vigil/internal/media"
	"vigil/internal/report"
)

var boxColor = color.RGBA{R: 220, G: 30, B: 30, A: 255}

// renderAnnotated draws the retained bounding boxes over the original upload.
// Only image-source jobs can be annotated; the source pixels of a sampled
// video frame are not kept.
func (x *Exporter) renderAnnotated(e *history.Entry) (*Artifact, error) {
	if e.Report == nil {
		return nil, fmt.Errorf("%w: job %s has no report", ErrUnsupportedFormat, e.JobID)
	}
	if e.SourceKind != string(media.KindImage) {
		return nil, fmt.Errorf("%w: annotated export requires an image source", ErrUnsupportedFormat)
	}

	data, err := os.ReadFile(e.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("read source media for %s: %w", e.JobID, err)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source media for %s: %w", e.JobID, err)
	}

	img := annotate(src, e.Report)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}
	return &Artifact{
		Data:        out.Bytes(),
		Filename:    "annotated_" + e.JobID + ".jpg",
		ContentType: "image/jpeg",
	}, nil
}

func annotate(src image.Image, r *report.Report) *image.RGBA {
	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	for _, d := range r.Detections {
		x0 := bounds.Min.X + int(d.Box.X*w)
		y0 := bounds.Min.Y + int(d.Box.Y*h)
		x1 := x0 + int(d.Box.W*w)
		y1 := y0 + int(d.Box.H*h)
		drawRect(img, x0, y0, x1, y1, 2)
		drawLabel(img, x0+3, y0-4, fmt.Sprintf("%s %.2f", d.Label, d.Confidence))
	}
	return img
}

func drawRect(img *image.RGBA, x0, y0, x1, y1, thickness int) {
	for t := 0; t < thickness; t++ {
		for x := x0; x <= x1; x++ {
			img.Set(x, y0+t, boxColor)
			img.Set(x, y1-t, boxColor)
		}
		for y := y0; y <= y1; y++ {
			img.Set(x0+t, y, boxColor)
			img.Set(x1-t, y, boxColor)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	if y < basicfont.Face7x13.Height {
		y = basicfont.Face7x13.Height
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(boxColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func sortedLabels(summary map[string]report.LabelSummary) []string {
	labels := make([]string, 0, len(summary))
	for l := range summary {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
