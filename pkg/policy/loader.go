package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// RegoExtension is the extension of plain Rego policy files.
const RegoExtension = ".rego"

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// IsPolicyFile reports whether path is a Rego file or a policy definition
// (.yaml, .yml or .json).
func IsPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case RegoExtension, ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// definition is the on-disk form of a policy definition file. The Rego
// source is inline or in a file relative to the definition.
type definition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Severity    Severity `yaml:"severity"`
	Enabled     *bool    `yaml:"enabled"`
	Tags        []string `yaml:"tags"`
	Rego        string   `yaml:"rego"`
	RegoFile    string   `yaml:"rego_file"`
}

type cacheEntry struct {
	policy  Policy
	modTime time.Time
}

// Loader reads policies from files and directories. Parsed files are cached
// until their modification time changes.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string]cacheEntry
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cacheEntry),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths. A
// named file that fails to parse is an error; broken files found while
// walking a directory are logged and skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	seen := make(map[string]string)

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, p := range policies {
			if prev, dup := seen[p.Name]; dup {
				return nil, fmt.Errorf("policy %s defined in both %s and %s", p.Name, prev, p.Source)
			}
			seen[p.Name] = p.Source
			all = append(all, p)
		}
	}

	l.logger.Info().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

// loadFromPath loads policies from a single path (file or directory).
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, _, err := l.loadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}

	return []Policy{*policy}, nil
}

// loadFromDirectory loads every policy file below dirPath in lexical order.
// Rego files referenced by a definition are not loaded a second time.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var files []string

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dirPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsPolicyFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	// Definitions first so the Rego files they reference are known.
	sort.SliceStable(files, func(i, j int) bool {
		return filepath.Ext(files[i]) != RegoExtension && filepath.Ext(files[j]) == RegoExtension
	})

	var policies []Policy
	referenced := make(map[string]bool)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if referenced[path] {
			continue
		}

		policy, regoFile, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			continue
		}
		if regoFile != "" {
			referenced[regoFile] = true
		}
		policies = append(policies, *policy)
	}

	return policies, nil
}

// loadFromFile loads one policy and, for definitions, the Rego file it
// references.
func (l *Loader) loadFromFile(_ context.Context, filePath string) (*Policy, string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat file: %w", err)
	}

	l.mu.Lock()
	if cached, ok := l.cache[filePath]; ok && cached.modTime.Equal(info.ModTime()) {
		l.mu.Unlock()
		p := cached.policy
		return &p, "", nil
	}
	l.mu.Unlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}

	var (
		policy   *Policy
		regoFile string
	)
	switch ext := filepath.Ext(filePath); ext {
	case RegoExtension:
		policy = parseRegoFile(filePath, data)
	case ".yaml", ".yml", ".json":
		policy, regoFile, err = parseDefinition(filePath, data)
		if err != nil {
			return nil, "", err
		}
	default:
		return nil, "", fmt.Errorf("unsupported file type: %s", filePath)
	}

	// A definition is only as fresh as the Rego file it reads.
	if regoFile == "" {
		l.mu.Lock()
		l.cache[filePath] = cacheEntry{policy: *policy, modTime: info.ModTime()}
		l.mu.Unlock()
	}

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Str("severity", string(policy.Severity)).
		Msg("Policy loaded from file")

	return policy, regoFile, nil
}

// parseRegoFile builds a policy named after the file. Leading comments carry
// the description and "key: value" metadata lines (severity, tags, enabled).
func parseRegoFile(filePath string, data []byte) *Policy {
	content := string(data)
	h := parseHeader(content)

	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(filePath), RegoExtension),
		Description: h.description,
		Rego:        content,
		Severity:    h.severity,
		Enabled:     h.enabled,
		Tags:        h.tags,
		Source:      filePath,
	}
}

// parseDefinition parses a YAML or JSON definition. JSON is read by the
// YAML decoder.
func parseDefinition(filePath string, data []byte) (*Policy, string, error) {
	var def definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, "", fmt.Errorf("failed to parse policy definition: %w", err)
	}

	if def.Name == "" {
		return nil, "", fmt.Errorf("policy definition %s has no name", filePath)
	}
	if def.Rego != "" && def.RegoFile != "" {
		return nil, "", fmt.Errorf("policy %s sets both rego and rego_file", def.Name)
	}

	var regoFile string
	if def.RegoFile != "" {
		regoFile = def.RegoFile
		if !filepath.IsAbs(regoFile) {
			regoFile = filepath.Join(filepath.Dir(filePath), regoFile)
		}
		src, err := os.ReadFile(regoFile)
		if err != nil {
			return nil, "", fmt.Errorf("policy %s: failed to read rego_file: %w", def.Name, err)
		}
		def.Rego = string(src)
	}
	if def.Rego == "" {
		return nil, "", fmt.Errorf("policy %s has no rego source", def.Name)
	}

	policy := &Policy{
		Name:        def.Name,
		Description: def.Description,
		Rego:        def.Rego,
		Severity:    def.Severity,
		Enabled:     def.Enabled == nil || *def.Enabled,
		Tags:        def.Tags,
		Source:      filePath,
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	if err := policy.Severity.Validate(); err != nil {
		return nil, "", fmt.Errorf("policy %s: %w", def.Name, err)
	}
	if policy.Tags == nil {
		policy.Tags = []string{}
	}

	return policy, regoFile, nil
}

type header struct {
	description string
	severity    Severity
	tags        []string
	enabled     bool
}

// parseHeader reads the comment block before the first Rego statement.
func parseHeader(content string) header {
	h := header{severity: SeverityWarning, tags: []string{}, enabled: true}
	var desc []string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" {
			continue
		}

		key, value, ok := strings.Cut(comment, ":")
		switch key = strings.TrimSpace(key); {
		case ok && key == "severity":
			if sev := Severity(strings.TrimSpace(value)); sev.Validate() == nil {
				h.severity = sev
			}
		case ok && key == "tags":
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					h.tags = append(h.tags, tag)
				}
			}
		case ok && key == "enabled":
			h.enabled = strings.TrimSpace(value) != "false"
		default:
			desc = append(desc, comment)
		}
	}

	h.description = strings.Join(desc, " ")
	return h
}

// Watch reloads the policies under paths after files are written, created,
// removed or renamed, and calls reloadFn with the full new set. Watching
// stops when ctx is cancelled or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watched := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		// Single files are watched through their directory so that editors
		// replacing the file are seen.
		dir := path
		if !info.IsDir() {
			dir = filepath.Dir(path)
		}
		if err := addTree(watcher, dir); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return fmt.Errorf("none of %d policy paths can be watched", len(paths))
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching policy paths")

	return nil
}

// addTree watches dir and every directory below it.
func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						l.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if !IsPolicyFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads all policies from watched paths. The previous set
// stays active when loading fails.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	if ctx.Err() != nil {
		return nil
	}
	l.logger.Info().Msg("Reloading policies")

	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.logger.Info().
		Int("count", len(policies)).
		Msg("Policies reloaded")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// ClearCache clears the policy cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]cacheEntry)
	l.logger.Debug().Msg("Policy cache cleared")
}
