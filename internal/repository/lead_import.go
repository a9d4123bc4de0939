package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"converta/internal/entities"
)

// MaxImportRows bounds a single CSV upload
const MaxImportRows = 5000

var headerCleaner = regexp.MustCompile("[^a-z0-9_]+")

// header aliases accepted for each lead field
var leadHeaderAliases = map[string]string{
	"name":      "name",
	"nome":      "name",
	"full_name": "name",
	"phone":     "phone",
	"telefone":  "phone",
	"whatsapp":  "phone",
	"mobile":    "phone",
	"email":     "email",
	"e_mail":    "email",
	"notes":     "notes",
	"notas":     "notes",
	"obs":       "notes",
	"score":     "score",
}

func sanitizeHeader(name string) string {
	return strings.Trim(headerCleaner.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_"), "_")
}

// ParseLeadCSV maps a header row onto lead fields. Unknown columns are
// ignored; short rows are padded and long rows truncated. Rows without name,
// phone and email are skipped.
func ParseLeadCSV(data io.Reader) ([]entities.Lead, error) {
	reader := csv.NewReader(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	fields := make([]string, len(headers))
	known := 0
	for i, h := range headers {
		if f, ok := leadHeaderAliases[sanitizeHeader(h)]; ok {
			fields[i] = f
			known++
		}
	}
	if known == 0 {
		return nil, errors.New("no recognised columns (expected name, phone, email, notes, score)")
	}

	leads := []entities.Lead{}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for len(row) < len(headers) {
			row = append(row, "")
		}
		row = row[:len(headers)]

		var l entities.Lead
		for i, value := range row {
			value = strings.TrimSpace(value)
			switch fields[i] {
			case "name":
				l.Name = value
			case "phone":
				l.Phone = NormalizePhone(value)
			case "email":
				l.Email = strings.ToLower(value)
			case "notes":
				l.Notes = value
			case "score":
				if value == "" {
					continue
				}
				score, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid score %q", line, value)
				}
				l.Score = score
			}
		}
		if l.Name == "" && l.Phone == "" && l.Email == "" {
			continue
		}
		if len(leads) == MaxImportRows {
			return nil, fmt.Errorf("csv exceeds %d rows", MaxImportRows)
		}
		l.Source = "csv"
		l.Confirmed = true
		leads = append(leads, l)
	}
	return leads, nil
}

// NormalizePhone keeps digits and a leading plus sign
func NormalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
