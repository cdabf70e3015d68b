// Package chart renders monthly permit counts, with optional forecast
// overlays, as PNG images.
package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/quarter"
)

const (
	Width  = 1200
	Height = 630

	marginLeft   = 90
	marginRight  = 40
	marginTop    = 60
	marginBottom = 60
)

var (
	background = color.RGBA{20, 24, 40, 255}
	axis       = color.RGBA{120, 120, 140, 255}
	barColor   = color.RGBA{90, 140, 220, 255}
	lineColor  = color.RGBA{240, 170, 60, 255}
	textColor  = color.RGBA{220, 220, 230, 255}
)

// Data is what one chart shows.
type Data struct {
	Title    string
	Actual   []models.Point
	Forecast []models.Point
}

// Render draws actual values as bars and the forecast as a line over the
// union of their months.
func Render(data Data) ([]byte, error) {
	data.Actual = normalize(data.Actual)
	data.Forecast = normalize(data.Forecast)
	months := unionMonths(data.Actual, data.Forecast)
	if len(months) == 0 {
		return nil, models.ErrEmptySeries
	}

	peak := 0.0
	for _, pts := range [][]models.Point{data.Actual, data.Forecast} {
		for _, p := range pts {
			peak = max(peak, p.Value)
		}
	}
	if peak <= 0 {
		peak = 1
	}
	peak *= 1.1

	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	fill(img, background)

	plotW := Width - marginLeft - marginRight
	plotH := Height - marginTop - marginBottom
	slot := float64(plotW) / float64(len(months))
	baseline := Height - marginBottom

	index := make(map[time.Time]int, len(months))
	for i, m := range months {
		index[m] = i
	}
	yOf := func(v float64) int {
		return baseline - int(v/peak*float64(plotH))
	}
	xOf := func(i int) int {
		return marginLeft + int((float64(i)+0.5)*slot)
	}

	barW := max(int(slot*0.6), 1)
	for _, p := range data.Actual {
		x := xOf(index[p.Month]) - barW/2
		rect(img, x, yOf(p.Value), x+barW, baseline, barColor)
	}

	var prevX, prevY int
	for i, p := range data.Forecast {
		x, y := xOf(index[p.Month]), yOf(p.Value)
		if i > 0 {
			line(img, prevX, prevY, x, y, lineColor)
		}
		rect(img, x-3, y-3, x+4, y+4, lineColor)
		prevX, prevY = x, y
	}

	line(img, marginLeft, baseline, Width-marginRight, baseline, axis)
	line(img, marginLeft, marginTop, marginLeft, baseline, axis)

	face := basicfont.Face7x13
	drawText(img, data.Title, marginLeft, marginTop-25, textColor, face)
	drawText(img, fmt.Sprintf("%.0f", peak), 10, marginTop+5, textColor, face)
	drawText(img, "0", marginLeft-20, baseline, textColor, face)
	drawText(img, months[0].Format("2006-01"), marginLeft, baseline+25, textColor, face)
	last := months[len(months)-1].Format("2006-01")
	drawText(img, last, Width-marginRight-7*len(last), baseline+25, textColor, face)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func unionMonths(sets ...[]models.Point) []time.Time {
	seen := make(map[time.Time]bool)
	var months []time.Time
	for _, pts := range sets {
		for _, p := range pts {
			if !seen[p.Month] {
				seen[p.Month] = true
				months = append(months, p.Month)
			}
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months
}

// normalize returns a month-sorted copy keyed on UTC month starts.
func normalize(pts []models.Point) []models.Point {
	out := make([]models.Point, len(pts))
	for i, p := range pts {
		out[i] = models.Point{Month: quarter.MonthStart(p.Month), Value: p.Value}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}

func fill(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func rect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	r := image.Rect(x0, y0, x1, y1).Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// line draws with Bresenham's algorithm.
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
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
