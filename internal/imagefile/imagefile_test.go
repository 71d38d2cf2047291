package imagefile

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestHasImageExt(t *testing.T) {
	cases := map[string]bool{
		"a.png":       true,
		"B.PNG":       true,
		"photo.JpEg":  true,
		"x.jpg":       true,
		"notes.txt":   false,
		"archive.gif": false,
		"png":         false,
		"dir/pic.jpg": true,
	}
	for name, want := range cases {
		if got := HasImageExt(name); got != want {
			t.Errorf("HasImageExt(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSniff(t *testing.T) {
	if f, ok := Sniff(encodePNG(t, 2, 2)); !ok || f != "png" {
		t.Errorf("png sniff = %q, %v", f, ok)
	}
	if f, ok := Sniff(encodeJPEG(t, 2, 2)); !ok || f != "jpeg" {
		t.Errorf("jpeg sniff = %q, %v", f, ok)
	}
	if _, ok := Sniff([]byte("just some text, not an image")); ok {
		t.Errorf("text accepted as image")
	}
}

func TestDecode(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	if err := os.WriteFile(good, encodePNG(t, 7, 3), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := Decode(good)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Width != 7 || rec.Height != 3 || rec.Format != "png" || rec.Name != "good.png" {
		t.Errorf("record = %+v", rec)
	}

	bad := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(bad, []byte("\xff\xd8garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Decode(bad)
	var de *DecodeError
	if !errors.As(err, &de) || de.Path != bad {
		t.Errorf("corrupt file err = %v", err)
	}

	_, err = Decode(filepath.Join(dir, "missing.png"))
	if !errors.As(err, &de) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
}
