package casesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// PayloadValidator checks annotation payloads against a JSON Schema loaded
// from disk. The schema file's directory is watched so edits take effect
// without a restart; a broken edit keeps the last good schema. A nil
// validator accepts everything.
type PayloadValidator struct {
	path    string
	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	schema *jsonschema.Schema

	closeOnce sync.Once
	done      chan struct{}
}

func NewPayloadValidator(path string) (*PayloadValidator, error) {
	schema, err := compileSchemaFile(path)
	if err != nil {
		return nil, err
	}
	v := &PayloadValidator{
		path:   path,
		schema: schema,
		done:   make(chan struct{}),
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	v.watcher = watcher
	go v.watch()
	return v, nil
}

func (v *PayloadValidator) Validate(data map[string]any) error {
	if v == nil || data == nil {
		return nil
	}
	v.mu.RLock()
	schema := v.schema
	v.mu.RUnlock()
	if schema == nil {
		return nil
	}
	raw, err := jsonValue(data)
	if err != nil {
		return err
	}
	if err := schema.Validate(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (v *PayloadValidator) Close() error {
	if v == nil {
		return nil
	}
	v.closeOnce.Do(func() {
		close(v.done)
		if v.watcher != nil {
			_ = v.watcher.Close()
		}
	})
	return nil
}

func (v *PayloadValidator) watch() {
	base := filepath.Base(v.path)
	for {
		select {
		case <-v.done:
			return
		case event, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			v.reload()
		case _, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (v *PayloadValidator) reload() {
	schema, err := compileSchemaFile(v.path)
	if err != nil {
		log.Printf("casesync: keeping previous annotation schema, reload failed: %v", err)
		return
	}
	v.mu.Lock()
	v.schema = schema
	v.mu.Unlock()
	log.Printf("casesync: annotation schema reloaded from %s", v.path)
}

func compileSchemaFile(path string) (*jsonschema.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("annotation-payload.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("annotation-payload.json")
}

func jsonValue(data map[string]any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
