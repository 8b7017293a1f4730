// Copyright 2026 The SafeStay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package contract

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"time"

	"github.com/safestay/safestay/internal/fulfillment"
	"github.com/safestay/safestay/internal/intake"
	"github.com/safestay/safestay/internal/tenant"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"
)

// Raster layout, in pixels unless noted
const (
	PageWidth    = 1240
	margin       = 80
	lineHeight   = 24
	sectionGap   = 28
	imageBoxW    = 480
	imageBoxH    = 300
	imageLabelH  = 28
	dateLayout   = "02 Jan 2006"
	notProvided  = "(not provided)"
	maskedDigits = 4
)

var (
	inkColor   = color.RGBA{R: 0x1e, G: 0x29, B: 0x3b, A: 0xff}
	mutedColor = color.RGBA{R: 0x64, G: 0x74, B: 0x8b, A: 0xff}
	ruleColor  = color.RGBA{R: 0xcb, G: 0xd5, B: 0xe1, A: 0xff}
)

// ErrIncomplete is returned when a contract lacks the data needed to render it
var ErrIncomplete = errors.New("contract is incomplete")

// Document is a rendered contract raster
type Document struct {
	Image     *image.RGBA
	Title     string
	TenantRef string
	Date      time.Time
}

// Width returns the raster width in pixels
func (d *Document) Width() int { return d.Image.Bounds().Dx() }

// Height returns the raster height in pixels
func (d *Document) Height() int { return d.Image.Bounds().Dy() }

// PNG encodes the raster. Identical documents encode to identical bytes.
func (d *Document) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, d.Image); err != nil {
		return nil, fmt.Errorf("failed to encode contract image: %w", err)
	}
	return buf.Bytes(), nil
}

// Renderer lays out a filled agreement as a printable raster. Render is a
// pure function of its input: no clock, no I/O.
type Renderer struct {
	regular font.Face
	bold    font.Face
}

// NewRenderer creates a renderer using the embedded monospace faces
func NewRenderer() *Renderer {
	return &Renderer{regular: inconsolata.Regular8x16, bold: inconsolata.Bold8x16}
}

type block interface {
	height() int
	draw(dst *image.RGBA, y int, r *Renderer)
}

type textBlock struct {
	text   string
	bold   bool
	muted  bool
	indent int
}

func (b textBlock) height() int { return lineHeight }

func (b textBlock) draw(dst *image.RGBA, y int, r *Renderer) {
	face := r.regular
	if b.bold {
		face = r.bold
	}
	ink := inkColor
	if b.muted {
		ink = mutedColor
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(ink),
		Face: face,
		Dot:  fixed.P(margin+b.indent, y+lineHeight-6),
	}
	d.DrawString(b.text)
}

type gapBlock int

func (g gapBlock) height() int { return int(g) }

func (g gapBlock) draw(*image.RGBA, int, *Renderer) {}

type ruleBlock struct{}

func (ruleBlock) height() int { return sectionGap }

func (ruleBlock) draw(dst *image.RGBA, y int, _ *Renderer) {
	mid := y + sectionGap/2
	draw.Draw(dst, image.Rect(margin, mid, PageWidth-margin, mid+1), image.NewUniform(ruleColor), image.Point{}, draw.Src)
}

type imagePair struct {
	labels [2]string
	images [2]image.Image
}

func (p imagePair) height() int { return imageBoxH + imageLabelH }

func (p imagePair) draw(dst *image.RGBA, y int, r *Renderer) {
	for i := range p.images {
		x := margin + i*(imageBoxW+margin)
		box := image.Rect(x, y, x+imageBoxW, y+imageBoxH)
		draw.Draw(dst, box.Inset(-1), image.NewUniform(ruleColor), image.Point{}, draw.Src)
		draw.Draw(dst, box, image.White, image.Point{}, draw.Src)

		if img := p.images[i]; img != nil {
			draw.CatmullRom.Scale(dst, fit(img.Bounds(), box), img, img.Bounds(), draw.Over, nil)
		} else {
			textBlock{text: notProvided, muted: true, indent: x - margin + 16}.draw(dst, y+imageBoxH/2-lineHeight/2, r)
		}
		textBlock{text: p.labels[i], bold: true, indent: x - margin}.draw(dst, y+imageBoxH+2, r)
	}
}

// fit centers src's aspect ratio inside box
func fit(src, box image.Rectangle) image.Rectangle {
	w, h := box.Dx(), src.Dy()*box.Dx()/src.Dx()
	if h > box.Dy() {
		w, h = src.Dx()*box.Dy()/src.Dy(), box.Dy()
	}
	x0 := box.Min.X + (box.Dx()-w)/2
	y0 := box.Min.Y + (box.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// Render lays out the contract. The raster is PageWidth wide and exactly as
// tall as its content.
func (r *Renderer) Render(rc *fulfillment.RenderableContract) (*Document, error) {
	if rc == nil || rc.Agreement == nil || rc.Tenant == nil {
		return nil, ErrIncomplete
	}
	a, t := rc.Agreement, rc.Tenant

	signature, err := optionalImage(t, intake.SlotSignature)
	if err != nil {
		return nil, err
	}
	selfie, err := optionalImage(t, intake.SlotSelfie)
	if err != nil {
		return nil, err
	}

	date := t.SubmittedAt
	if a.FilledAt != nil {
		date = *a.FilledAt
	}

	cols := (PageWidth - 2*margin) / 8

	blocks := []block{
		gapBlock(margin / 2),
		textBlock{text: "RESIDENTIAL RENTAL AGREEMENT", bold: true},
		textBlock{text: fmt.Sprintf("Agreement %s  |  Executed %s", a.ID, date.UTC().Format(dateLayout)), muted: true},
		ruleBlock{},
		textBlock{text: "PROPERTY", bold: true},
	}
	blocks = append(blocks, field("Property", a.PropertyLabel, cols)...)
	if a.PropertyAddress != "" {
		blocks = append(blocks, field("Address", a.PropertyAddress, cols)...)
	}
	blocks = append(blocks, field("Monthly rent", formatAmount(a.RentAmount), cols)...)

	blocks = append(blocks, ruleBlock{}, textBlock{text: "TENANT", bold: true})
	blocks = append(blocks, field("Name", t.Fields.FullName, cols)...)
	blocks = append(blocks, field("Father/guardian", t.Fields.RelationName, cols)...)
	blocks = append(blocks, field("Permanent address", t.Fields.PermanentAddress, cols)...)
	blocks = append(blocks, field("Mobile", t.Fields.Mobile, cols)...)
	if t.Fields.NationalID != "" {
		blocks = append(blocks, field("National ID", mask(t.Fields.NationalID), cols)...)
	}
	if t.Fields.SecondaryID != "" {
		blocks = append(blocks, field("Secondary ID", mask(t.Fields.SecondaryID), cols)...)
	}

	blocks = append(blocks, ruleBlock{}, textBlock{text: "TERMS AND CONDITIONS", bold: true})
	if len(a.Terms) == 0 {
		blocks = append(blocks, textBlock{text: "No additional terms.", muted: true})
	}
	for i, term := range a.Terms {
		prefix := fmt.Sprintf("%d. ", i+1)
		for j, line := range wrap(term, cols-len(prefix)) {
			if j == 0 {
				blocks = append(blocks, textBlock{text: prefix + line})
			} else {
				blocks = append(blocks, textBlock{text: line, indent: len(prefix) * 8})
			}
		}
	}

	blocks = append(blocks,
		ruleBlock{},
		textBlock{text: "The tenant confirms the details above and accepts the terms of this agreement.", muted: true},
		gapBlock(sectionGap),
		imagePair{labels: [2]string{"Tenant signature", "Tenant photograph"}, images: [2]image.Image{signature, selfie}},
		gapBlock(margin),
	)

	height := 0
	for _, b := range blocks {
		height += b.height()
	}

	dst := image.NewRGBA(image.Rect(0, 0, PageWidth, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	y := 0
	for _, b := range blocks {
		b.draw(dst, y, r)
		y += b.height()
	}

	return &Document{
		Image:     dst,
		Title:     fmt.Sprintf("Rental Agreement - %s", a.PropertyLabel),
		TenantRef: t.ID,
		Date:      date,
	}, nil
}

func optionalImage(rec *tenant.Record, slot intake.Slot) (image.Image, error) {
	a, ok := rec.Document(slot)
	if !ok {
		return nil, nil
	}
	img, err := a.Image()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", slot, err)
	}
	return img, nil
}

func field(label, value string, cols int) []block {
	if value == "" {
		value = "-"
	}
	prefix := label + ": "
	lines := wrap(value, cols-len(prefix))
	out := make([]block, 0, len(lines))
	for i, line := range lines {
		if i == 0 {
			out = append(out, textBlock{text: prefix + line})
		} else {
			out = append(out, textBlock{text: line, indent: len(prefix) * 8})
		}
	}
	return out
}

// wrap breaks text into lines of at most width runes, splitting on spaces
// where possible.
func wrap(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		line := ""
		for _, w := range words {
			for len([]rune(w)) > width {
				if line != "" {
					lines = append(lines, line)
					line = ""
				}
				r := []rune(w)
				lines = append(lines, string(r[:width]))
				w = string(r[width:])
			}
			switch {
			case line == "":
				line = w
			case len([]rune(line))+1+len([]rune(w)) <= width:
				line += " " + w
			default:
				lines = append(lines, line)
				line = w
			}
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

func formatAmount(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	return strings.TrimSuffix(s, ".00")
}

// mask keeps only the last few characters of an identifier
func mask(id string) string {
	if len(id) <= maskedDigits {
		return id
	}
	return strings.Repeat("X", len(id)-maskedDigits) + id[len(id)-maskedDigits:]
}
