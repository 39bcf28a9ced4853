package notebook

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// markerPattern matches a cell marker line: # %% [id: xxx, type: yyy, as: zzz]
var markerPattern = regexp.MustCompile(`^# %%\s*\[([^\]]+)\]\s*$`)

// parseMarker splits "id: abc, type: sql, as: df" into its fields.
func parseMarker(content string) map[string]string {
	fields := make(map[string]string)
	for _, part := range strings.Split(content, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
}

// Parse reads a notebook file and returns its cells in order.
// Text before the first marker is ignored. Cells without an id get a fresh
// one; cells without a type are script cells.
func Parse(r io.Reader) ([]Cell, error) {
	var (
		cells   []Cell
		current *Cell
		lines   []string
	)

	finish := func() {
		if current == nil {
			return
		}
		current.Code = strings.TrimSpace(strings.Join(lines, "\n"))
		cells = append(cells, *current)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		match := markerPattern.FindStringSubmatch(line)
		if match == nil {
			if current != nil {
				lines = append(lines, line)
			}
			continue
		}

		finish()

		fields := parseMarker(match[1])
		kind, err := ParseKind(fields["type"])
		if err != nil {
			return nil, fmt.Errorf("invalid marker %q: %w", line, err)
		}
		id := fields["id"]
		if id == "" {
			id = NewID()
		}
		current = &Cell{ID: id, Kind: kind, As: fields["as"]}
		lines = nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}
	finish()

	return cells, nil
}

// marker renders the marker line for a cell.
func marker(c Cell) string {
	parts := []string{"id: " + c.ID}
	if c.Kind != "" && c.Kind != KindScript {
		parts = append(parts, "type: "+string(c.Kind))
	}
	if c.As != "" {
		parts = append(parts, "as: "+c.As)
	}
	return "# %% [" + strings.Join(parts, ", ") + "]"
}

// Serialize writes cells in notebook file format. An empty list produces no
// output.
func Serialize(w io.Writer, cells []Cell) error {
	if len(cells) == 0 {
		return nil
	}
	blocks := make([]string, len(cells))
	for i, c := range cells {
		blocks[i] = marker(c) + "\n" + c.Code
	}
	if _, err := io.WriteString(w, strings.Join(blocks, "\n\n")+"\n"); err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	return nil
}

// ReadFile parses the notebook file at path.
func ReadFile(path string) ([]Cell, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open notebook %s: %w", path, err)
	}
	defer f.Close()

	cells, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notebook %s: %w", path, err)
	}
	return cells, nil
}

// WriteFile writes cells to path, creating parent directories as needed.
func WriteFile(path string, cells []Cell) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create notebook directory: %w", err)
	}

	var b strings.Builder
	if err := Serialize(&b, cells); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write notebook %s: %w", path, err)
	}
	return nil
}
