package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"vpnconnect/internal/model"
)

// ReadCSV loads usage samples from a CSV file.
func ReadCSV(path string) ([]model.UsageSample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.UsageSample, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]model.UsageSample, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(csvHeader) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		durationSec, _ := strconv.ParseFloat(rec[3], 64)
		received, _ := strconv.ParseUint(rec[4], 10, 64)
		sent, _ := strconv.ParseUint(rec[5], 10, 64)
		tokens, _ := strconv.ParseFloat(rec[6], 64)
		currency, _ := strconv.ParseFloat(rec[7], 64)
		items = append(items, model.UsageSample{
			Timestamp:     ts,
			SessionID:     rec[1],
			ProviderID:    rec[2],
			Duration:      time.Duration(durationSec * float64(time.Second)),
			BytesReceived: received,
			BytesSent:     sent,
			TokensSpent:   tokens,
			CurrencySpent: currency,
		})
	}

	return items, nil
}
