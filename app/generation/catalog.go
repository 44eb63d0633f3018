package generation

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"github.com/lysyi3m/stoa/app/model"
	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.yml
var builtinPrompts embed.FS

const (
	TemplateShort  = "short"
	TemplateThread = "thread"
	TemplateLong   = "long"
	TemplateReply  = "reply"
	TemplateRefine = "refine"
)

var requiredTemplates = []string{TemplateShort, TemplateThread, TemplateLong, TemplateReply, TemplateRefine}

// Prompt is the prompt set of one virtue. Templates missing from a virtue
// file fall back to the general set.
type Prompt struct {
	Virtue  model.Virtue      `yaml:"-"`
	System  string            `yaml:"system"`
	Topics  []string          `yaml:"topics"`
	Formats map[string]string `yaml:"formats"`

	templates map[string]*template.Template
}

// PromptData is the input every template is rendered with.
type PromptData struct {
	Topic           string
	Knowledge       string
	StyleExamples   string
	OriginalContent string
	Username        string
	Content         string
	Instruction     string
}

type Catalog struct {
	dir   string
	cache map[model.Virtue]*Prompt
	mu    sync.RWMutex
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{
		dir:   dir,
		cache: make(map[model.Virtue]*Prompt),
	}
}

// Run loads the built-in prompts, then applies overrides from the prompts
// directory when one is configured.
func (c *Catalog) Run() error {
	for _, virtue := range model.Virtues {
		data, err := builtinPrompts.ReadFile("prompts/" + string(virtue) + ".yml")
		if err != nil {
			return fmt.Errorf("missing built-in prompts for %s: %w", virtue, err)
		}
		if _, err := c.load(virtue, data, "built-in"); err != nil {
			return err
		}
	}

	if c.dir == "" {
		return nil
	}
	if _, err := os.Stat(c.dir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(c.dir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}
	for _, file := range files {
		virtue, ok := virtueFromFile(file)
		if !ok {
			slog.Warn("Ignoring prompt file for unknown virtue", "file", file)
			continue
		}
		if _, err := c.LoadPrompt(virtue); err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
	}
	return nil
}

// LoadPrompt reads the override file of a virtue into the cache.
func (c *Catalog) LoadPrompt(virtue model.Virtue) (*Prompt, error) {
	file := c.promptFilePath(virtue)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return c.load(virtue, data, file)
}

func (c *Catalog) load(virtue model.Virtue, data []byte, source string) (*Prompt, error) {
	prompt, err := parsePrompt(data)
	if err != nil {
		return nil, err
	}
	prompt.Virtue = virtue

	if err := validatePrompt(prompt); err != nil {
		return nil, fmt.Errorf("invalid prompts %s: %w", source, err)
	}

	c.mu.Lock()
	c.cache[virtue] = prompt
	c.mu.Unlock()

	slog.Debug("Prompts loaded", "virtue", string(virtue), "source", source, "topics", len(prompt.Topics))
	return prompt, nil
}

func (c *Catalog) GetPrompt(virtue model.Virtue) (*Prompt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prompt, ok := c.cache[virtue]
	if !ok {
		return nil, fmt.Errorf("prompts for virtue '%s' not found", virtue)
	}
	return prompt, nil
}

func (c *Catalog) GetPromptCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Topics returns the topics of a virtue, or of every virtue when empty.
func (c *Catalog) Topics(virtue model.Virtue) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if virtue != "" {
		if prompt, ok := c.cache[virtue]; ok {
			return append([]string(nil), prompt.Topics...)
		}
		return nil
	}

	var all []string
	for _, v := range model.Virtues {
		if prompt, ok := c.cache[v]; ok {
			all = append(all, prompt.Topics...)
		}
	}
	return all
}

// Render returns the system prompt of the virtue and the rendered template.
func (c *Catalog) Render(virtue model.Virtue, name string, data PromptData) (string, string, error) {
	if virtue == "" {
		virtue = model.VirtueGeneral
	}

	c.mu.RLock()
	prompt, ok := c.cache[virtue]
	general := c.cache[model.VirtueGeneral]
	c.mu.RUnlock()

	if !ok {
		return "", "", fmt.Errorf("prompts for virtue '%s' not found", virtue)
	}

	tmpl := prompt.templates[name]
	if tmpl == nil && general != nil {
		tmpl = general.templates[name]
	}
	if tmpl == nil {
		return "", "", fmt.Errorf("template %q not defined for %s", name, virtue)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return strings.TrimSpace(prompt.System), strings.TrimSpace(buf.String()), nil
}

// Watch reloads override files as they change until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.dir == "" {
		return nil
	}
	if _, err := os.Stat(c.dir); os.IsNotExist(err) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				c.handleEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Prompt watcher error", "error", err)
			}
		}
	}()

	slog.Info("Watching prompt overrides", "dir", c.dir)
	return nil
}

func (c *Catalog) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	virtue, ok := virtueFromFile(event.Name)
	if !ok {
		return
	}
	// A broken edit keeps the previous prompts in place.
	if _, err := c.LoadPrompt(virtue); err != nil {
		slog.Error("Failed to reload prompts", "virtue", string(virtue), "error", err)
		return
	}
	slog.Info("Prompts reloaded", "virtue", string(virtue))
}

func (c *Catalog) promptFilePath(virtue model.Virtue) string {
	return filepath.Join(c.dir, string(virtue)+".yml")
}

func parsePrompt(data []byte) (*Prompt, error) {
	var prompt Prompt
	if err := yaml.Unmarshal(data, &prompt); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if prompt.Formats == nil {
		prompt.Formats = map[string]string{}
	}

	prompt.templates = make(map[string]*template.Template, len(prompt.Formats))
	for name, text := range prompt.Formats {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		prompt.templates[name] = tmpl
	}
	return &prompt, nil
}

func validatePrompt(prompt *Prompt) error {
	if strings.TrimSpace(prompt.System) == "" {
		return fmt.Errorf("system prompt is required")
	}
	if len(prompt.Topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}

	known := map[string]bool{}
	for _, name := range requiredTemplates {
		known[name] = true
	}
	for name := range prompt.Formats {
		if !known[name] {
			return fmt.Errorf("unknown template %q", name)
		}
	}

	if prompt.Virtue == model.VirtueGeneral {
		for _, name := range requiredTemplates {
			if strings.TrimSpace(prompt.Formats[name]) == "" {
				return fmt.Errorf("general prompts must define the %s template", name)
			}
		}
	}
	return nil
}

func virtueFromFile(path string) (model.Virtue, bool) {
	name := filepath.Base(path)
	if filepath.Ext(name) != ".yml" {
		return "", false
	}
	virtue := model.Virtue(strings.TrimSuffix(name, ".yml"))
	return virtue, virtue.Valid()
}
