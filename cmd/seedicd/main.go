// Command seedicd converts the WHO ICD-10 classification Excel file into a
// SQL seed file for the icd10_codes catalog table.
// Usage: go run ./cmd/seedicd [path-to-xlsx]
// Output: db/seeds/icd10_codes.sql
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

const batchSize = 500

type icdEntry struct {
	code        string
	description string
	chapter     string
	chapterDesc string
	groupCode   string
	groupDesc   string
	category3   string
}

// headerColumns maps the WHO spreadsheet header names to entry fields.
var headerColumns = []string{
	"ICD10_Code",
	"WHO_Full_Desc",
	"Chapter_No",
	"Chapter_Desc",
	"Group_Code",
	"Group_Desc",
	"ICD10_3_Code",
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	xlsxPath := "icd10_who_classification.xlsx"
	if len(os.Args) > 1 {
		xlsxPath = os.Args[1]
	}
	outPath := "db/seeds/icd10_codes.sql"

	f, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		return fmt.Errorf("open Excel file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := parseSheet(f)
	if err != nil {
		return fmt.Errorf("parse sheet: %w", err)
	}
	log.Printf("parsed %d catalog entries", len(entries))

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = out.Close() }()

	w := func(s string) error { _, werr := fmt.Fprintln(out, s); return werr }

	for _, line := range []string{
		"-- ICD-10 catalog seed data generated from the WHO classification Excel.",
		fmt.Sprintf("-- %d entries in batches of %d.", len(entries), batchSize),
		"-- Apply with: psql \"$DATABASE_URL\" -f db/seeds/icd10_codes.sql",
		"BEGIN;",
		"",
	} {
		if werr := w(line); werr != nil {
			return fmt.Errorf("write header: %w", werr)
		}
	}

	for i := 0; i < len(entries); i += batchSize {
		end := i + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := writeBatch(out, entries[i:end]); err != nil {
			return fmt.Errorf("write batch at offset %d: %w", i, err)
		}
	}

	for _, line := range []string{"", "COMMIT;"} {
		if werr := w(line); werr != nil {
			return fmt.Errorf("write footer: %w", werr)
		}
	}

	log.Printf("Generated %d total entries (%d batches) in %s",
		len(entries), (len(entries)+batchSize-1)/batchSize, outPath)
	return nil
}

// parseSheet reads sheet 0. The first row is a header naming the columns;
// positions are resolved from it rather than hard-coded.
func parseSheet(f *excelize.File) ([]icdEntry, error) {
	sheetName := f.GetSheetName(0)
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %q has no data rows", sheetName)
	}

	idx := make(map[string]int)
	for i, name := range rows[0] {
		idx[strings.TrimSpace(name)] = i
	}
	for _, col := range headerColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing expected column %q in header row", col)
		}
	}

	seen := make(map[string]bool)
	var entries []icdEntry
	for i := 1; i < len(rows); i++ {
		row := rows[i]

		code := strings.TrimSpace(cellVal(row, idx["ICD10_Code"]))
		desc := strings.TrimSpace(cellVal(row, idx["WHO_Full_Desc"]))
		if code == "" || desc == "" || seen[code] {
			continue
		}
		seen[code] = true

		entries = append(entries, icdEntry{
			code:        code,
			description: desc,
			chapter:     strings.TrimSpace(cellVal(row, idx["Chapter_No"])),
			chapterDesc: strings.TrimSpace(cellVal(row, idx["Chapter_Desc"])),
			groupCode:   strings.TrimSpace(cellVal(row, idx["Group_Code"])),
			groupDesc:   strings.TrimSpace(cellVal(row, idx["Group_Desc"])),
			category3:   strings.TrimSpace(cellVal(row, idx["ICD10_3_Code"])),
		})
	}
	return entries, nil
}

func writeBatch(out *os.File, batch []icdEntry) error {
	if len(batch) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO icd10_codes (code, description, chapter, chapter_desc, group_code, group_desc, category_3) VALUES\n")

	for i := range batch {
		e := &batch[i]
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "  ('%s', '%s', '%s', '%s', '%s', '%s', '%s')",
			escapeSQL(e.code), escapeSQL(e.description),
			escapeSQL(e.chapter), escapeSQL(e.chapterDesc),
			escapeSQL(e.groupCode), escapeSQL(e.groupDesc),
			escapeSQL(e.category3))
	}

	b.WriteString("\nON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description;\n")

	_, err := out.WriteString(b.String())
	return err
}

func cellVal(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
