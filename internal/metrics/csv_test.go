package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vpnconnect/internal/model"
)

func TestAppendCSV_WritesHeaderOnce(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "usage", "usage.csv")

	s1 := model.UsageSample{Timestamp: time.Unix(1, 0).UTC(), SessionID: "s1", ProviderID: "0xa"}
	s2 := model.UsageSample{Timestamp: time.Unix(2, 0).UTC(), SessionID: "s1", ProviderID: "0xa"}

	if err := AppendCSV(path, []model.UsageSample{s1}); err != nil {
		t.Fatalf("AppendCSV #1: %v", err)
	}
	if err := AppendCSV(path, []model.UsageSample{s2}); err != nil {
		t.Fatalf("AppendCSV #2: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d\n%s", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "timestamp,") {
		t.Fatalf("missing header: %q", lines[0])
	}
}

func TestReadCSV_ParsesWrittenSamples(t *testing.T) {
	t.Parallel()

	want := model.UsageSample{
		Timestamp:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		SessionID:     "s1",
		ProviderID:    "0xa",
		Duration:      90 * time.Second,
		BytesReceived: 2048,
		BytesSent:     512,
		TokensSpent:   0.25,
		CurrencySpent: 0.5,
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, []model.UsageSample{want}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	got, err := readCSV(&buf)
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got=%+v", got)
	}
}

func TestReadCSV_RejectsShortRecord(t *testing.T) {
	t.Parallel()

	if _, err := readCSV(strings.NewReader("2024-03-01T10:00:00Z,s1\n")); err == nil {
		t.Fatalf("expected error")
	}
}
