package tools

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/scrypster/esmcp/internal/notify"
)

//go:embed default_schema.json
var defaultSchema []byte

// embeddedSchemaPath is reported as the source when no file is configured.
const embeddedSchemaPath = "embedded:default_schema.json"

// SchemaTool serves the search field schema document. The document comes
// from a JSON file when one is configured, otherwise from the built-in
// default, and is reloaded whenever the file changes.
type SchemaTool struct {
	path string

	mu      sync.RWMutex
	doc     map[string]interface{}
	loadErr error

	watcher *notify.FileWatcher
}

// NewSchemaTool loads the schema from path, or the built-in default when
// path is empty. A load failure is reported by Execute, not here.
func NewSchemaTool(path string) *SchemaTool {
	t := &SchemaTool{path: path}
	t.reload()
	return t
}

func (t *SchemaTool) Name() string { return NameSchema }

func (t *SchemaTool) Description() string {
	return "Load Elasticsearch schema from JSON file and extract searchable fields"
}

func (t *SchemaTool) RequiredParameters() []string { return nil }
func (t *SchemaTool) OptionalParameters() []string { return nil }

// Execute returns the schema document as loaded, with no wrapper.
func (t *SchemaTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	t.mu.RLock()
	doc, loadErr := t.doc, t.loadErr
	t.mu.RUnlock()

	if doc == nil {
		return map[string]interface{}{
			"status":    "error",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"source":    "json_file",
			"file_path": t.source(),
			"error": map[string]interface{}{
				"code":    "SCHEMA_LOAD_FAILED",
				"message": "Failed to load schema from JSON file",
				"details": errString(loadErr),
			},
		}, nil
	}
	return doc, nil
}

// Watch reloads the schema whenever the configured file changes. It is a
// no-op for the built-in default.
func (t *SchemaTool) Watch() error {
	if t.path == "" {
		return nil
	}
	w := notify.NewFileWatcher(t.path, func(string) {
		t.reload()
	})
	if err := w.Start(); err != nil {
		return fmt.Errorf("tools: failed to watch schema file: %w", err)
	}
	t.watcher = w
	return nil
}

// Close stops watching the schema file.
func (t *SchemaTool) Close() {
	if t.watcher != nil {
		t.watcher.Stop()
	}
}

// reload reads and parses the schema. A broken edit keeps the previously
// loaded document.
func (t *SchemaTool) reload() {
	data := defaultSchema
	if t.path != "" {
		b, err := os.ReadFile(t.path)
		if err != nil {
			t.fail(fmt.Errorf("schema file not found: %w", err))
			return
		}
		data = b
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.fail(fmt.Errorf("invalid schema JSON in %s: %w", t.source(), err))
		return
	}

	t.mu.Lock()
	t.doc = doc
	t.loadErr = nil
	t.mu.Unlock()
	log.Printf("tools: loaded schema from %s", t.source())
}

func (t *SchemaTool) fail(err error) {
	t.mu.Lock()
	t.loadErr = err
	kept := t.doc != nil
	t.mu.Unlock()
	if kept {
		log.Printf("Warning: tools: %v (keeping previous schema)", err)
		return
	}
	log.Printf("ERROR: tools: %v", err)
}

func (t *SchemaTool) source() string {
	if t.path == "" {
		return embeddedSchemaPath
	}
	return t.path
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
