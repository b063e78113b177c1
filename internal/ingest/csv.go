// Package ingest loads licensing and disbursement data, enriches it with
// registry lookups, and runs every provider through the scoring engine.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ProviderRow is one parsed licensing record.
type ProviderRow struct {
	Name          string
	LicenseNumber string
	LicenseType   string
	Address       string
	City          string
	Capacity      int
}

// PaymentRow is one parsed disbursement record.
type PaymentRow struct {
	LicenseNumber string
	Amount        float64
	PaidAt        time.Time
}

// headerAliases maps the column names seen across licensing exports onto
// canonical field keys. Matching is case-insensitive and ignores spaces
// and underscores.
var headerAliases = map[string]string{
	"licenseholder": "name",
	"name":          "name",
	"provider":      "name",
	"licensenumber": "license",
	"license":       "license",
	"licensetype":   "type",
	"addressline1":  "address",
	"address":       "address",
	"city":          "city",
	"capacity":      "capacity",
	"amount":        "amount",
	"date":          "date",
	"paiddate":      "date",
}

func canonicalHeader(value string) string {
	cleaned := strings.ToLower(strings.TrimSpace(value))
	cleaned = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(cleaned)
	return headerAliases[cleaned]
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, col := range header {
		key := canonicalHeader(col)
		if key == "" {
			continue
		}
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}
	return index
}

func field(row []string, index map[string]int, key string) string {
	i, ok := index[key]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseProviders reads a licensing CSV. When cityFilter is non-empty, rows
// from other cities are dropped. Results are ordered by capacity descending
// so the largest facilities are scored first.
func ParseProviders(r io.Reader, cityFilter string) ([]ProviderRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read provider header: %w", err)
	}
	index := headerIndex(header)
	if _, ok := index["license"]; !ok {
		return nil, fmt.Errorf("provider CSV missing license number column")
	}

	wantCity := strings.ToLower(strings.TrimSpace(cityFilter))
	var rows []ProviderRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read provider row: %w", err)
		}

		license := field(record, index, "license")
		if license == "" {
			continue
		}
		city := field(record, index, "city")
		if wantCity != "" && strings.ToLower(city) != wantCity {
			continue
		}

		capacity := 0
		if raw := field(record, index, "capacity"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"license":  license,
					"capacity": raw,
				}).Warn("unparseable capacity, defaulting to 0")
			} else {
				capacity = parsed
			}
		}

		rows = append(rows, ProviderRow{
			Name:          field(record, index, "name"),
			LicenseNumber: license,
			LicenseType:   field(record, index, "type"),
			Address:       field(record, index, "address"),
			City:          city,
			Capacity:      capacity,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Capacity > rows[j].Capacity
	})
	return rows, nil
}

var paymentDateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006"}

func parsePaymentDate(value string) (time.Time, bool) {
	for _, layout := range paymentDateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ParsePayments reads a disbursement CSV keyed by license number. Rows with
// malformed amounts or dates are logged and skipped rather than failing the
// whole file.
func ParsePayments(r io.Reader) ([]PaymentRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read payment header: %w", err)
	}
	index := headerIndex(header)
	if _, ok := index["license"]; !ok {
		return nil, fmt.Errorf("payment CSV missing license number column")
	}
	if _, ok := index["amount"]; !ok {
		return nil, fmt.Errorf("payment CSV missing amount column")
	}

	var rows []PaymentRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read payment row: %w", err)
		}
		line++

		license := field(record, index, "license")
		if license == "" {
			continue
		}

		rawAmount := strings.ReplaceAll(field(record, index, "amount"), ",", "")
		rawAmount = strings.TrimPrefix(rawAmount, "$")
		amount, err := strconv.ParseFloat(rawAmount, 64)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"line":   line,
				"amount": rawAmount,
			}).Warn("skipping payment with unparseable amount")
			continue
		}

		var paidAt time.Time
		if raw := field(record, index, "date"); raw != "" {
			ts, ok := parsePaymentDate(raw)
			if !ok {
				logrus.WithFields(logrus.Fields{
					"line": line,
					"date": raw,
				}).Warn("skipping payment with unparseable date")
				continue
			}
			paidAt = ts
		}

		rows = append(rows, PaymentRow{
			LicenseNumber: license,
			Amount:        amount,
			PaidAt:        paidAt,
		})
	}
	return rows, nil
}

// GroupPayments buckets payment rows by normalized license number.
func GroupPayments(rows []PaymentRow) map[string][]PaymentRow {
	grouped := make(map[string][]PaymentRow)
	for _, row := range rows {
		key := strings.ToUpper(strings.TrimSpace(row.LicenseNumber))
		grouped[key] = append(grouped[key], row)
	}
	return grouped
}
