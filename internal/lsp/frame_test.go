package lsp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrame_RoundTrip(t *testing.T) {
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadFrame() = %q, want %q", got, payload)
	}
}

func TestFrame_HeaderFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("{}")); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	want := "Content-Length: 2\r\n\r\n{}"
	if buf.String() != want {
		t.Errorf("WriteFrame wrote %q, want %q", buf.String(), want)
	}
}

func TestFrame_SkipsNoiseLines(t *testing.T) {
	input := "warning: something on stdout\r\n" +
		"Content-Length: 2\r\n" +
		"\r\n" +
		"{}"

	got, err := ReadFrame(bufio.NewReader(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("ReadFrame() = %q, want %q", got, "{}")
	}
}

func TestFrame_IgnoresZeroLength(t *testing.T) {
	input := "Content-Length: 0\r\n" +
		"\r\n" +
		"Content-Length: 4\r\n" +
		"\r\n" +
		"true"

	got, err := ReadFrame(bufio.NewReader(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(got) != "true" {
		t.Errorf("ReadFrame() = %q, want %q", got, "true")
	}
}

func TestFrame_CaseInsensitiveHeader(t *testing.T) {
	input := "content-length: 4\r\n\r\nnull"

	got, err := ReadFrame(bufio.NewReader(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(got) != "null" {
		t.Errorf("ReadFrame() = %q, want %q", got, "null")
	}
}

func TestFrame_EOF(t *testing.T) {
	_, err := ReadFrame(bufio.NewReader(strings.NewReader("")))
	if !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame() on empty stream = %v, want io.EOF", err)
	}
}

func TestFrame_TruncatedPayload(t *testing.T) {
	input := "Content-Length: 100\r\n\r\n{}"

	_, err := ReadFrame(bufio.NewReader(strings.NewReader(input)))
	if err == nil {
		t.Fatal("Expected error for truncated payload, got nil")
	}
}

func TestFrame_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	frames := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}
	for _, f := range frames {
		if err := WriteFrame(&buf, []byte(f)); err != nil {
			t.Fatalf("WriteFrame(%q) error = %v", f, err)
		}
	}

	r := bufio.NewReader(&buf)
	for i, want := range frames {
		got, err := ReadFrame(r)
		if err != nil {
			t.Fatalf("ReadFrame() frame %d error = %v", i, err)
		}
		if string(got) != want {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}
}
