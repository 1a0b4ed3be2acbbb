package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"vigilant-go/internal/types"
)

var clausePattern = regexp.MustCompile(`(?s)CLAUSE\s+([\w-]+):\s*([^\n]+?)\n(.*?)(?:(?:CLAUSE\s+[\w-]+:)|\z)`)

// ParseDir reads every policy document in dir: *.txt files in the CLAUSE
// text layout and *.xlsx workbooks with one clause per row. Files are read
// in name order; a repeated clause id keeps its first definition.
func ParseDir(dir string, log *logrus.Entry) ([]types.Clause, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policies dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []types.Clause
	seen := map[string]struct{}{}
	add := func(cs []types.Clause) {
		for _, c := range cs {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".txt":
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			cs := ParseText(string(raw), name)
			log.WithField("file", name).WithField("clauses", len(cs)).Info("parsed policy document")
			add(cs)
		case ".xlsx":
			cs, err := ParseWorkbook(path)
			if err != nil {
				return nil, err
			}
			log.WithField("file", name).WithField("clauses", len(cs)).Info("parsed policy workbook")
			add(cs)
		}
	}
	return out, nil
}

// ParseText splits a policy document into clauses. Each clause starts with
// a "CLAUSE <id>: <rule name>" line and runs until the next one.
func ParseText(content, source string) []types.Clause {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var out []types.Clause
	for {
		loc := clausePattern.FindStringSubmatchIndex(content)
		if loc == nil {
			break
		}
		id := content[loc[2]:loc[3]]
		name := content[loc[4]:loc[5]]
		desc := content[loc[6]:loc[7]]
		out = append(out, types.Clause{
			ID:          strings.TrimSpace(id),
			RuleName:    strings.TrimSpace(name),
			Description: strings.TrimSpace(desc),
			Source:      source,
		})
		// resume at the next CLAUSE header, which the match consumed as a terminator
		content = content[loc[7]:]
	}
	return out
}

// ParseWorkbook reads the first sheet of an xlsx catalogue. Columns are
// found by header name; rows without an id are skipped.
func ParseWorkbook(path string) ([]types.Clause, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in %s", filepath.Base(path))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	idIdx, nameIdx, descIdx := -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case idIdx == -1 && (strings.Contains(l, "clause") && strings.Contains(l, "id") || l == "id"):
			idIdx = i
		case nameIdx == -1 && (strings.Contains(l, "rule") || strings.Contains(l, "name") || strings.Contains(l, "title")):
			nameIdx = i
		case descIdx == -1 && (strings.Contains(l, "desc") || strings.Contains(l, "text")):
			descIdx = i
		}
	}
	// fallback: id, name, description in the first three columns
	if idIdx == -1 {
		idIdx, nameIdx, descIdx = 0, 1, 2
	}

	cell := func(r []string, i int) string {
		if i >= 0 && i < len(r) {
			return strings.TrimSpace(r[i])
		}
		return ""
	}
	source := filepath.Base(path)
	var out []types.Clause
	for _, r := range rows[1:] {
		id := cell(r, idIdx)
		if id == "" {
			continue
		}
		out = append(out, types.Clause{
			ID:          id,
			RuleName:    cell(r, nameIdx),
			Description: cell(r, descIdx),
			Source:      source,
		})
	}
	return out, nil
}
