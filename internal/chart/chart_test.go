package chart

import (
	"bytes"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/lox/permitcast/internal/models"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestRender(t *testing.T) {
	data := Data{
		Title: "permits",
		Actual: []models.Point{
			{Month: month(2024, 1), Value: 14918},
			{Month: month(2024, 2), Value: 14918},
			{Month: month(2024, 3), Value: 14918},
		},
		Forecast: []models.Point{
			{Month: month(2024, 3), Value: 14103.4},
			{Month: month(2024, 2), Value: 14045.9},
			{Month: month(2024, 4), Value: 14220.0},
		},
	}

	out, err := Render(data)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != Width || b.Dy() != Height {
		t.Errorf("bounds = %v", b)
	}

	// First bar sits in the first of four month slots.
	slot := float64(Width-marginLeft-marginRight) / 4
	x := marginLeft + int(0.5*slot)
	r, g, b, _ := img.At(x, Height-marginBottom-5).RGBA()
	if uint8(r>>8) != barColor.R || uint8(g>>8) != barColor.G || uint8(b>>8) != barColor.B {
		t.Errorf("pixel at first bar = %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestRender_Empty(t *testing.T) {
	if _, err := Render(Data{}); !errors.Is(err, models.ErrEmptySeries) {
		t.Errorf("err = %v, want ErrEmptySeries", err)
	}
}

func TestUnionMonths(t *testing.T) {
	got := unionMonths(
		[]models.Point{{Month: month(2024, 2)}, {Month: month(2024, 1)}},
		[]models.Point{{Month: month(2024, 1)}, {Month: month(2024, 3)}},
	)
	if len(got) != 3 || !got[0].Equal(month(2024, 1)) || !got[2].Equal(month(2024, 3)) {
		t.Errorf("months = %v", got)
	}
}

func TestCache(t *testing.T) {
	c := NewCache(time.Minute)
	if _, ok := c.Get("permits"); ok {
		t.Fatal("empty cache hit")
	}
	c.Set("permits", []byte("png"))
	if data, ok := c.Get("permits"); !ok || string(data) != "png" {
		t.Errorf("get = %q, %v", data, ok)
	}
	c.Purge()
	if _, ok := c.Get("permits"); ok {
		t.Error("hit after purge")
	}

	expired := NewCache(-time.Second)
	expired.Set("permits", []byte("png"))
	if _, ok := expired.Get("permits"); ok {
		t.Error("expired entry returned")
	}
}
