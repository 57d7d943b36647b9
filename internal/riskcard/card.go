// Package riskcard renders a shareable PNG summary of a city's risk assessment.
package riskcard

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/urbanrisk/internal/risk"
)

// Width and Height are the standard Open Graph image dimensions.
const (
	Width  = 1200
	Height = 630
)

// Parsed fonts are shared. Faces keep per-glyph scratch state, so each render
// builds its own.
var (
	fontBold    *opentype.Font
	fontRegular *opentype.Font
	fontOnce    sync.Once
	fontErr     error
)

func loadFonts() error {
	fontOnce.Do(func() {
		fontBold, fontErr = opentype.Parse(gobold.TTF)
		if fontErr != nil {
			fontErr = fmt.Errorf("parse Go Bold: %w", fontErr)
			return
		}
		fontRegular, fontErr = opentype.Parse(goregular.TTF)
		if fontErr != nil {
			fontErr = fmt.Errorf("parse Go Regular: %w", fontErr)
		}
	})
	return fontErr
}

type faces struct {
	title, regular font.Face
}

func newFaces() (faces, error) {
	if err := loadFonts(); err != nil {
		return faces{}, err
	}
	title, err := opentype.NewFace(fontBold, &opentype.FaceOptions{
		Size:    64,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return faces{}, fmt.Errorf("create title face: %w", err)
	}
	regular, err := opentype.NewFace(fontRegular, &opentype.FaceOptions{
		Size:    32,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		title.Close()
		return faces{}, fmt.Errorf("create regular face: %w", err)
	}
	return faces{title: title, regular: regular}, nil
}

func (f faces) Close() {
	f.title.Close()
	f.regular.Close()
}

// Data is what a card shows.
type Data struct {
	City          string
	Timestamp     time.Time
	Resilience    float64
	Probabilities map[risk.Domain]float64
	Levels        map[risk.Domain]risk.Level
}

func FromAssessment(a risk.Assessment) Data {
	d := Data{
		City:          a.City,
		Timestamp:     a.Timestamp,
		Resilience:    a.ResilienceScore,
		Probabilities: make(map[risk.Domain]float64, len(risk.Domains)),
		Levels:        make(map[risk.Domain]risk.Level, len(risk.Domains)),
	}
	for _, dom := range risk.Domains {
		d.Probabilities[dom] = a.Prob(dom)
		d.Levels[dom] = a.Level(dom)
	}
	return d
}

var levelColors = map[risk.Level]color.RGBA{
	risk.LevelLow:      {46, 160, 67, 255},
	risk.LevelMedium:   {210, 153, 34, 255},
	risk.LevelHigh:     {219, 97, 36, 255},
	risk.LevelCritical: {200, 40, 40, 255},
}

var domainTitles = map[risk.Domain]string{
	risk.Environmental: "Environmental",
	risk.Health:        "Health",
	risk.FoodSecurity:  "Food security",
}

// Render draws the card and encodes it as PNG. It is safe for concurrent use.
func Render(data Data) ([]byte, error) {
	ff, err := newFaces()
	if err != nil {
		return nil, fmt.Errorf("load fonts: %w", err)
	}
	defer ff.Close()

	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	drawBackground(img)

	white := color.RGBA{255, 255, 255, 255}
	gray := color.RGBA{190, 195, 205, 255}

	drawText(img, titleCase(data.City), 60, 110, white, ff.title)
	if !data.Timestamp.IsZero() {
		drawText(img, data.Timestamp.UTC().Format("2 Jan 2006 15:04 MST"), 60, 160, gray, ff.regular)
	}
	drawText(img, fmt.Sprintf("Resilience %.0f%%", data.Resilience*100), 760, 110, white, ff.regular)

	for i, d := range risk.Domains {
		y := 250 + i*110
		level := data.Levels[d]
		p := data.Probabilities[d]
		drawText(img, domainTitles[d], 60, y, white, ff.regular)
		drawText(img, fmt.Sprintf("%s %.0f%%", level, p*100), 900, y, gray, ff.regular)
		drawBar(img, 60, y+20, Width-120, 28, p, levelColors[level])
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode risk card: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBackground(img *image.RGBA) {
	for y := 0; y < Height; y++ {
		progress := float64(y) / float64(Height)
		c := color.RGBA{uint8(18 + progress*10), uint8(22 + progress*12), uint8(36 + progress*24), 255}
		for x := 0; x < Width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawBar fills a track of width w with a bar proportional to p.
func drawBar(img *image.RGBA, x, y, w, h int, p float64, fill color.RGBA) {
	if fill.A == 0 {
		fill = color.RGBA{120, 120, 120, 255}
	}
	track := color.RGBA{50, 56, 72, 255}
	filled := int(float64(w) * clamp01(p))
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			if xx < x+filled {
				img.SetRGBA(xx, yy, fill)
			} else {
				img.SetRGBA(xx, yy, track)
			}
		}
	}
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
