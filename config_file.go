package director

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"vawter.tech/stopper"

	"github.com/axondata/go-director/internal/logfields"
)

// Provider definition file extensions
var configExtensions = []string{".yaml", ".yml", ".conf"}

// FileConfig is a ConfigSource backed by YAML files. In directory mode every
// definition file becomes one config named after the file; in file mode the
// single file is published as the SettingsName config.
type FileConfig struct {
	syncNotifier

	mem      *MemoryConfig
	dir      string
	file     string
	debounce time.Duration
	log      *slog.Logger
}

// FileConfigOption configures a FileConfig
type FileConfigOption func(*FileConfig)

// WithDebounce sets how long file events are coalesced before reloading
func WithDebounce(d time.Duration) FileConfigOption {
	return func(c *FileConfig) {
		c.debounce = d
	}
}

// WithConfigLogger sets the logger used for reload problems
func WithConfigLogger(l *slog.Logger) FileConfigOption {
	return func(c *FileConfig) {
		c.log = l
	}
}

// NewProviderDir creates a source publishing one config per definition file in dir
func NewProviderDir(dir string, opts ...FileConfigOption) *FileConfig {
	return newFileConfig(dir, "", opts)
}

// NewSettingsFile creates a source publishing path as the SettingsName config
func NewSettingsFile(path string, opts ...FileConfigOption) *FileConfig {
	return newFileConfig(filepath.Dir(path), filepath.Base(path), opts)
}

func newFileConfig(dir, file string, opts []FileConfigOption) *FileConfig {
	c := &FileConfig{
		mem:      NewMemoryConfig(),
		dir:      dir,
		file:     file,
		debounce: DefaultConfigDebounce,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value of key in config
func (c *FileConfig) Get(config, key string) string { return c.mem.Get(config, key) }

// Data returns a copy of config
func (c *FileConfig) Data(config string) map[string]string { return c.mem.Data(config) }

// List returns the config names in sorted order
func (c *FileConfig) List() []string { return c.mem.List() }

// Load reads every file, replaces the published configuration and announces it.
// Files that fail to parse are skipped and reported in the returned error.
func (c *FileConfig) Load() error {
	data, err := c.read()
	c.mem.Replace(data)
	c.notify()
	return err
}

func (c *FileConfig) read() (map[string]map[string]string, error) {
	data := make(map[string]map[string]string)
	merr := &MultiError{}

	if c.file != "" {
		path := filepath.Join(c.dir, c.file)
		kv, err := readFlatYAML(path)
		if err != nil && !os.IsNotExist(err) {
			merr.Add(&OpError{Op: OpLoadConfig, Subject: path, Err: err})
		}
		data[SettingsName] = kv
		return data, merr.Err()
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		merr.Add(&OpError{Op: OpLoadConfig, Subject: c.dir, Err: err})
		return data, merr.Err()
	}
	for _, e := range entries {
		name, ok := configName(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		if _, dup := data[name]; dup {
			c.log.Warn("duplicate provider definition ignored", logfields.Path(e.Name()))
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		kv, err := readFlatYAML(path)
		if err != nil {
			merr.Add(&OpError{Op: OpLoadConfig, Subject: path, Err: err})
			continue
		}
		data[name] = kv
	}
	return data, merr.Err()
}

// configName returns the provider name for a definition file name
func configName(file string) (string, bool) {
	if strings.HasPrefix(file, ".") {
		return "", false
	}
	ext := filepath.Ext(file)
	for _, want := range configExtensions {
		if ext == want {
			return strings.TrimSuffix(file, ext), true
		}
	}
	return "", false
}

// readFlatYAML decodes a YAML document and flattens it into /Section/Key paths
func readFlatYAML(path string) (map[string]string, error) {
	out := make(map[string]string)
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return out, err
	}
	flatten("", doc, out)
	return out, nil
}

// flatten writes nested maps as /a/b keys and sequences as comma lists
func flatten(prefix string, v any, out map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flatten(prefix+"/"+strings.Trim(k, "/"), child, out)
		}
	case map[any]any:
		for k, child := range val {
			flatten(prefix+"/"+strings.Trim(fmt.Sprint(k), "/"), child, out)
		}
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, string(ListDelim))
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(val)
	}
}

// Watch reloads the configuration whenever a file in the watched directory
// changes, on a goroutine owned by ctx
func (c *FileConfig) Watch(ctx *stopper.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &OpError{Op: OpLoadConfig, Subject: c.dir, Err: err}
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		return &OpError{Op: OpLoadConfig, Subject: c.dir, Err: err}
	}

	var mu sync.Mutex
	var debouncer *time.Timer

	ctx.Defer(func() {
		mu.Lock()
		if debouncer != nil {
			debouncer.Stop()
		}
		mu.Unlock()
		_ = watcher.Close()
	})

	reload := func() {
		if ctx.IsStopping() {
			return
		}
		if err := c.Load(); err != nil {
			c.log.Warn("configuration reload incomplete", logfields.Path(c.dir), logfields.Error(err))
			return
		}
		c.log.Info("configuration reloaded", logfields.Path(c.dir))
	}

	ctx.Go(func(ctx *stopper.Context) error {
		for {
			select {
			case <-ctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !c.relevant(event) {
					continue
				}
				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(c.debounce, reload)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				c.log.Warn("configuration watch error", logfields.Path(c.dir), logfields.Error(err))
			}
		}
	})
	return nil
}

func (c *FileConfig) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if c.file != "" {
		return base == c.file
	}
	_, ok := configName(base)
	return ok
}
