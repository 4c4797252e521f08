// Package export dumps spreadsheet tabs as normalized CSV.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/sheetwise/internal/normalize"
)

// DefaultOutput is the export file written when no path is given.
const DefaultOutput = "sheets_export.json"

// DefaultConcurrency bounds in-flight tab reads.
const DefaultConcurrency = 4

// Source lists and reads tabs. *sheets.Client satisfies it.
type Source interface {
	VisibleTabs(ctx context.Context) ([]string, error)
	Rows(ctx context.Context, tab string) ([][]any, error)
}

// Tab is one exported tab.
type Tab struct {
	Name string
	CSV  string
}

// Exporter reads tabs through a Source.
type Exporter struct {
	src         Source
	concurrency int
	logger      *logrus.Logger
}

// New creates an Exporter. A concurrency below 1 uses DefaultConcurrency.
func New(src Source, concurrency int, logger *logrus.Logger) *Exporter {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exporter{src: src, concurrency: concurrency, logger: logger}
}

// All fetches every visible tab. Output order matches the spreadsheet.
func (e *Exporter) All(ctx context.Context) ([]Tab, error) {
	names, err := e.src.VisibleTabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	out := make([]Tab, len(names))
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, name := range names {
		g.Go(func() error {
			rows, err := e.src.Rows(gctx, name)
			if err != nil {
				return fmt.Errorf("read tab %q: %w", name, err)
			}
			out[i] = Tab{Name: name, CSV: normalize.Rows(rows)}
			mu.Lock()
			done++
			n := done
			mu.Unlock()
			e.logger.WithFields(logrus.Fields{"tab": name, "rows": len(rows), "done": n, "total": len(names)}).
				Info("[EXPORT] tab processed")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// One fetches a single tab.
func (e *Exporter) One(ctx context.Context, name string) (Tab, error) {
	rows, err := e.src.Rows(ctx, name)
	if err != nil {
		return Tab{}, fmt.Errorf("read tab %q: %w", name, err)
	}
	return Tab{Name: name, CSV: normalize.Rows(rows)}, nil
}

// Marshal renders tabs as a JSON array of single-key objects.
func Marshal(tabs []Tab) ([]byte, error) {
	arr := make([]map[string]string, len(tabs))
	for i, t := range tabs {
		arr[i] = map[string]string{t.Name: t.CSV}
	}
	return json.MarshalIndent(arr, "", "  ")
}

// Unmarshal parses the export document back into ordered tabs.
func Unmarshal(data []byte) ([]Tab, error) {
	var arr []map[string]string
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	out := make([]Tab, 0, len(arr))
	for i, obj := range arr {
		if len(obj) != 1 {
			return nil, fmt.Errorf("decode export: entry %d has %d keys, want 1", i, len(obj))
		}
		for k, v := range obj {
			out = append(out, Tab{Name: k, CSV: v})
		}
	}
	return out, nil
}

// WriteJSON writes the export document to path.
func WriteJSON(path string, tabs []Tab) error {
	data, err := Marshal(tabs)
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// ReadJSON loads an export document.
func ReadJSON(path string) ([]Tab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return Unmarshal(data)
}

// WriteCSV writes a single tab to <dir>/<name>.csv and returns the path.
func WriteCSV(dir string, t Tab) (string, error) {
	path := filepath.Join(dir, t.Name+".csv")
	if err := os.WriteFile(path, []byte(t.CSV), 0o644); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return path, nil
}
