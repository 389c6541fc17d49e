package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// contentNamespace derives stable content ids so re-importing a file
// replaces its problems instead of duplicating them.
var contentNamespace = uuid.MustParse("6f1c2d0e-5b8a-4c39-9a57-3e2f8b41d7c6")

// Problem is one worked problem read from a corpus file.
type Problem struct {
	ContentID       string
	Problem         string
	Solution        string
	Section         string
	DifficultyLevel string
	Source          string
}

type problemFile struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
	Type     string `json:"type"`
	Level    string `json:"level"`
}

// FindFiles returns every .json and .jsonl file under root, sorted.
func FindFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".jsonl":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadFile parses one corpus file. A .json file holds a single problem
// object or an array of them; a .jsonl file holds one object per line.
// Entries missing a problem or a solution are counted as skipped.
func LoadFile(path string) (problems []Problem, skipped int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw []problemFile
	switch {
	case strings.EqualFold(filepath.Ext(path), ".jsonl"):
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
		for line := 1; sc.Scan(); line++ {
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			var pf problemFile
			if err := json.Unmarshal(text, &pf); err != nil {
				skipped++
				continue
			}
			raw = append(raw, pf)
		}
		if err := sc.Err(); err != nil {
			return nil, 0, fmt.Errorf("scanning %s: %w", path, err)
		}
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")):
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, 0, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		var pf problemFile
		if err := json.Unmarshal(data, &pf); err != nil {
			return nil, 0, fmt.Errorf("parsing %s: %w", path, err)
		}
		raw = []problemFile{pf}
	}

	dirSection := filepath.Base(filepath.Dir(path))
	for _, pf := range raw {
		p, ok := toProblem(pf, dirSection, path)
		if !ok {
			skipped++
			continue
		}
		problems = append(problems, p)
	}
	return problems, skipped, nil
}

func toProblem(pf problemFile, dirSection, source string) (Problem, bool) {
	problem := strings.TrimSpace(pf.Problem)
	solution := strings.TrimSpace(pf.Solution)
	if problem == "" || solution == "" {
		return Problem{}, false
	}
	section := strings.TrimSpace(pf.Type)
	if section == "" {
		section = dirSection
	}
	return Problem{
		ContentID:       uuid.NewSHA1(contentNamespace, []byte(problem+"\x00"+solution)).String(),
		Problem:         problem,
		Solution:        solution,
		Section:         section,
		DifficultyLevel: strings.TrimSpace(pf.Level),
		Source:          source,
	}, true
}
