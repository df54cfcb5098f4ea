package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"vpnconnect/internal/model"
)

var csvHeader = []string{
	"timestamp",
	"session_id",
	"provider_id",
	"duration_sec",
	"bytes_received",
	"bytes_sent",
	"tokens_spent",
	"currency_spent",
}

// WriteCSV writes usage samples to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.UsageSample) error {
	return writeCSV(w, items, true)
}

// AppendCSV appends samples to path, writing the header only when the file is new.
func AppendCSV(path string, items []model.UsageSample) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	return writeCSV(file, items, info.Size() == 0)
}

func writeCSV(w io.Writer, items []model.UsageSample, header bool) error {
	writer := csv.NewWriter(w)
	if header {
		if err := writer.Write(csvHeader); err != nil {
			return err
		}
	}

	for _, s := range items {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.SessionID,
			s.ProviderID,
			strconv.FormatFloat(s.Duration.Seconds(), 'f', 3, 64),
			strconv.FormatUint(s.BytesReceived, 10),
			strconv.FormatUint(s.BytesSent, 10),
			strconv.FormatFloat(s.TokensSpent, 'f', 6, 64),
			strconv.FormatFloat(s.CurrencySpent, 'f', 6, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
