package devserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"screenrelay/internal/domain"
	"screenrelay/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func post(t *testing.T, url string, body any) (int, string) {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(out)
}

func TestHandler_NoImage(t *testing.T) {
	ts := httptest.NewServer(New(Config{Logger: testLogger()}).Handler())
	defer ts.Close()

	code, body := post(t, ts.URL, domain.OutgoingRequest{Message: "hi"})
	if code != http.StatusBadRequest || strings.TrimSpace(body) != "No image provided" {
		t.Fatalf("got %d %q", code, body)
	}
}

func TestHandler_InvalidImage(t *testing.T) {
	ts := httptest.NewServer(New(Config{Logger: testLogger()}).Handler())
	defer ts.Close()

	for _, img := range []string{"!!!not base64", base64.StdEncoding.EncodeToString([]byte("not an image"))} {
		code, body := post(t, ts.URL, domain.OutgoingRequest{Message: "hi", Image: img})
		if code != http.StatusBadRequest || strings.TrimSpace(body) != "Invalid image data" {
			t.Fatalf("image %q: got %d %q", img, code, body)
		}
	}
}

func TestHandler_InvalidJSON(t *testing.T) {
	ts := httptest.NewServer(New(Config{Logger: testLogger()}).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d", resp.StatusCode)
	}
}

func TestHandler_StreamsOneTokenPerLine(t *testing.T) {
	srv := New(Config{
		Logger: testLogger(),
		Replier: func(message string, img image.Config, format string) []string {
			if img.Width != 3 || img.Height != 2 || format != "png" {
				t.Errorf("unexpected image %dx%d %s", img.Width, img.Height, format)
			}
			return []string{"Hello", message}
		},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, body := post(t, ts.URL, domain.OutgoingRequest{Message: "world", Image: pngBase64(t, 3, 2)})
	if code != http.StatusOK || body != "Hello\nworld\n" {
		t.Fatalf("got %d %q", code, body)
	}
}

func TestHandler_OnlyPost(t *testing.T) {
	ts := httptest.NewServer(New(Config{Logger: testLogger()}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET got %d", resp.StatusCode)
	}
}

func TestEchoReplier(t *testing.T) {
	got := strings.Join(EchoReplier("what is this", image.Config{Width: 4, Height: 5}, "png"), " ")
	if got != "I see a 4x5 png screenshot. You asked: what is this" {
		t.Fatalf("reply = %q", got)
	}
}

// The transport client and the dev server agree on the wire format.
func TestRoundTripWithClient(t *testing.T) {
	ts := httptest.NewServer(New(Config{Logger: testLogger()}).Handler())
	defer ts.Close()

	client := transport.NewClient(transport.ClientConfig{URL: ts.URL + "/", Logger: testLogger()})
	sent := false
	lines, err := client.Send(context.Background(), domain.OutgoingRequest{Message: "hi", Image: pngBase64(t, 1, 1)}, func() { sent = true })
	if err != nil {
		t.Fatal(err)
	}
	defer lines.Close()

	var tokens []string
	for {
		l, ok := lines.Next()
		if !ok {
			break
		}
		tokens = append(tokens, l)
	}
	if err := lines.Err(); err != nil {
		t.Fatal(err)
	}
	if !sent {
		t.Fatal("onSent did not run")
	}
	if strings.Join(tokens, " ") != "I see a 1x1 png screenshot. You asked: hi" {
		t.Fatalf("tokens = %v", tokens)
	}
}
