package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/example/agentcoach/pkg/models"
)

// Catalog is where imported specialties go
type Catalog interface {
	ListSpecialties(ctx context.Context) ([]models.Specialty, error)
	CreateSpecialty(ctx context.Context, specialty *models.Specialty) (*models.Specialty, error)
	UpdateSpecialty(ctx context.Context, id string, specialty *models.Specialty) (*models.Specialty, error)
}

// ImportConfig defines the import configuration
type ImportConfig struct {
	FilePath          string // Path to the Excel or CSV file
	NameColumn        string // Column with the specialty name
	DomainColumn      string // Column with the domain
	DescriptionColumn string // Column with the description
	KnowledgeColumn   string // Column with required knowledge, separated by ";"
	LevelsColumn      string // Column with competency levels, lowest first, separated by ";"
	SheetName         string // Name of the sheet to import
	StartRow          int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		NameColumn:        "A",
		DomainColumn:      "B",
		DescriptionColumn: "C",
		KnowledgeColumn:   "D",
		LevelsColumn:      "E",
		SheetName:         "Sheet1",
		StartRow:          2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Created        int
	Updated        int
	Skipped        int
	Errors         []string
}

// ImportSpecialties imports specialties from an Excel or CSV file. A row whose
// name matches an existing specialty, ignoring case, updates it.
func ImportSpecialties(ctx context.Context, catalog Catalog, config ImportConfig) (*ImportResult, error) {
	var (
		rows [][]string
		err  error
	)
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		rows, err = readCSV(config.FilePath)
	} else {
		rows, err = readExcel(config.FilePath, config.SheetName)
	}
	if err != nil {
		return nil, err
	}

	existing, err := catalog.ListSpecialties(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get existing specialties: %w", err)
	}
	byName := make(map[string]string, len(existing))
	for _, s := range existing {
		byName[strings.ToLower(s.Name)] = s.ID
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		// Skip header rows
		if i < config.StartRow-1 {
			continue
		}
		if isBlank(row) {
			result.Skipped++
			continue
		}

		result.TotalProcessed++
		if err := importRow(ctx, catalog, parseRow(row, config), byName, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
		}
	}
	return result, nil
}

func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(row []string, config ImportConfig) *models.Specialty {
	cell := func(column string) string {
		if column == "" {
			return ""
		}
		if idx := columnToIndex(column); idx >= 0 && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}
	return &models.Specialty{
		Name:              cell(config.NameColumn),
		Domain:            cell(config.DomainColumn),
		Description:       cell(config.DescriptionColumn),
		RequiredKnowledge: splitList(cell(config.KnowledgeColumn)),
		CompetencyLevels:  splitList(cell(config.LevelsColumn)),
	}
}

func importRow(ctx context.Context, catalog Catalog, specialty *models.Specialty, byName map[string]string, result *ImportResult) error {
	if specialty.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	key := strings.ToLower(specialty.Name)

	if id, ok := byName[key]; ok {
		if _, err := catalog.UpdateSpecialty(ctx, id, specialty); err != nil {
			return fmt.Errorf("failed to update specialty: %w", err)
		}
		result.Updated++
		return nil
	}

	created, err := catalog.CreateSpecialty(ctx, specialty)
	if err != nil {
		return fmt.Errorf("failed to create specialty: %w", err)
	}
	byName[key] = created.ID
	result.Created++
	return nil
}

func splitList(s string) models.StringList {
	var out models.StringList
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(column)
	index := 0
	for i := 0; i < len(column); i++ {
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}
