// Package config loads cellgrid's HCL configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"cellgrid/plugin"
)

// Config holds all configuration
type Config struct {
	Variables []Variable
	Models    []Model
	Plugins   []Plugin
	Limiters  []Limiter
	Engine    *EngineConfig
	Planner   *PlannerConfig
	Storage   *StorageConfig
	Server    *ServerConfig
	Logging   *LoggingConfig

	// LoadedPlugins holds the started plugin clients, keyed by plugin name
	LoadedPlugins map[string]*plugin.PluginClient
	// PluginWarnings holds warnings for plugins that could not be loaded
	PluginWarnings []string
	// ResolvedVars holds the resolved variable values for runtime use
	ResolvedVars map[string]cty.Value
}

// Options tune loading.
type Options struct {
	// SkipPlugins parses plugin blocks without starting the plugins.
	SkipPlugins bool
	Logger      hclog.Logger
}

func Load(path string) (*Config, error) {
	return LoadWithOptions(path, Options{})
}

func LoadWithOptions(path string, opts Options) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		files, err := filepath.Glob(filepath.Join(path, "*.hcl"))
		if err != nil {
			return nil, err
		}
		return loadFromFiles(files, opts)
	}
	return loadFromFiles([]string{path}, opts)
}

// LoadAndValidate loads the config and validates all components
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		cfg.Close()
		return nil, err
	}

	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	return loadFromFiles([]string{filename}, Options{})
}

func LoadDir(dir string) (*Config, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return nil, err
	}
	return loadFromFiles(files, Options{})
}

// Close stops every loaded plugin.
func (c *Config) Close() {
	for _, p := range c.LoadedPlugins {
		p.Close()
	}
}

// Validate checks that all config components are valid
func (c *Config) Validate() error {
	for _, v := range c.Variables {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("variable '%s': %w", v.Name, err)
		}
	}

	for _, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model '%s': %w", m.Name, err)
		}
	}

	for _, p := range c.Plugins {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("plugin '%s': %w", p.Name, err)
		}
	}

	seen := make(map[string]bool)
	for _, l := range c.Limiters {
		if seen[l.Name] {
			return fmt.Errorf("limiter '%s': defined more than once", l.Name)
		}
		seen[l.Name] = true
		if err := l.Validate(); err != nil {
			return fmt.Errorf("limiter '%s': %w", l.Name, err)
		}
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if c.Planner != nil {
		if err := c.Planner.Validate(); err != nil {
			return fmt.Errorf("planner: %w", err)
		}
		for _, ref := range []string{c.Planner.Model, c.Planner.DefaultModel} {
			if ref == "" {
				continue
			}
			if err := c.checkModelRef(ref); err != nil {
				return fmt.Errorf("planner: %w", err)
			}
		}
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}

// checkModelRef verifies a "model_block.model_key" reference.
func (c *Config) checkModelRef(ref string) error {
	block, key, err := splitModelRef(ref)
	if err != nil {
		return err
	}
	for _, m := range c.Models {
		if m.Name != block {
			continue
		}
		if !slices.Contains(m.AllowedModels, key) {
			return fmt.Errorf("model '%s' does not allow '%s'. Allowed models: %v", block, key, m.AllowedModels)
		}
		return nil
	}
	return fmt.Errorf("unknown model block '%s'", block)
}

// parsedBlocks holds all blocks extracted from a file in one pass
type parsedBlocks struct {
	Variables []*hcl.Block
	Models    []*hcl.Block
	Plugins   []*hcl.Block
	Limiters  []*hcl.Block
	Singles   map[string][]*hcl.Block
}

// singleBlocks may appear at most once across all files.
var singleBlocks = []string{"engine", "planner", "storage", "server", "log"}

// loadFromFiles implements staged loading: variables → models → plugins →
// limiters → engine, planner, storage, server and log blocks
func loadFromFiles(files []string, opts Options) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("config")

	schema := &hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "variable", LabelNames: []string{"name"}},
			{Type: "model", LabelNames: []string{"name"}},
			{Type: "plugin", LabelNames: []string{"name"}},
			{Type: "limiter", LabelNames: []string{"name"}},
		},
	}
	for _, name := range singleBlocks {
		schema.Blocks = append(schema.Blocks, hcl.BlockHeaderSchema{Type: name})
	}

	parser := hclparse.NewParser()
	all := parsedBlocks{Singles: make(map[string][]*hcl.Block)}

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %w", file, diags)
		}

		content, diags := hclFile.Body.Content(schema)
		if diags.HasErrors() {
			return nil, fmt.Errorf("read %s: %w", file, diags)
		}

		for _, block := range content.Blocks {
			switch block.Type {
			case "variable":
				all.Variables = append(all.Variables, block)
			case "model":
				all.Models = append(all.Models, block)
			case "plugin":
				all.Plugins = append(all.Plugins, block)
			case "limiter":
				all.Limiters = append(all.Limiters, block)
			default:
				all.Singles[block.Type] = append(all.Singles[block.Type], block)
			}
		}
	}

	// Stage 1: Load variables (no context needed)
	var allVars []Variable
	for _, block := range all.Variables {
		var v Variable
		v.Name = block.Labels[0]
		diags := gohcl.DecodeBody(block.Body, nil, &v)
		if diags.HasErrors() {
			return nil, fmt.Errorf("decode variable %s: %w", v.Name, diags)
		}
		allVars = append(allVars, v)
	}

	varsCtx, resolvedVars := buildVarsContext(allVars)

	// Stage 2: Load models (with vars context)
	var allModels []Model
	for _, block := range all.Models {
		var m Model
		m.Name = block.Labels[0]
		diags := gohcl.DecodeBody(block.Body, varsCtx, &m)
		if diags.HasErrors() {
			return nil, fmt.Errorf("model '%s': %w", m.Name, diags)
		}
		allModels = append(allModels, m)
	}

	modelsCtx := buildModelsContext(varsCtx, allModels)

	// Stage 3: Load plugins (with vars + models context)
	var allPlugins []Plugin
	var pluginWarnings []string
	loadedPlugins := make(map[string]*plugin.PluginClient)

	for _, block := range all.Plugins {
		p, err := parsePluginBlock(block, modelsCtx)
		if err != nil {
			return nil, err
		}
		allPlugins = append(allPlugins, *p)
		if opts.SkipPlugins {
			continue
		}

		client, err := plugin.LoadPlugin(p.Name, p.Version, p.Path, logger)
		if err != nil {
			pluginWarnings = append(pluginWarnings, fmt.Sprintf("plugin '%s': %v", p.Name, err))
			continue
		}
		if len(p.Settings) > 0 {
			if err := client.Configure(p.Settings); err != nil {
				pluginWarnings = append(pluginWarnings, fmt.Sprintf("plugin '%s' configure: %v", p.Name, err))
				client.Close()
				continue
			}
		}
		loadedPlugins[p.Name] = client
	}
	for _, w := range pluginWarnings {
		logger.Warn(w)
	}

	// Stage 4: Load limiters
	var allLimiters []Limiter
	for _, block := range all.Limiters {
		var l Limiter
		l.Name = block.Labels[0]
		diags := gohcl.DecodeBody(block.Body, modelsCtx, &l)
		if diags.HasErrors() {
			return nil, fmt.Errorf("limiter '%s': %w", l.Name, diags)
		}
		allLimiters = append(allLimiters, l)
	}

	// Stage 5: Load singleton blocks (with the full context)
	for name, blocks := range all.Singles {
		if len(blocks) > 1 {
			return nil, fmt.Errorf("%s block defined %d times; at most one is allowed", name, len(blocks))
		}
	}

	cfg := &Config{
		Variables:      allVars,
		Models:         allModels,
		Plugins:        allPlugins,
		Limiters:       allLimiters,
		Engine:         &EngineConfig{},
		Storage:        &StorageConfig{},
		Server:         &ServerConfig{},
		Logging:        &LoggingConfig{},
		LoadedPlugins:  loadedPlugins,
		PluginWarnings: pluginWarnings,
		ResolvedVars:   resolvedVars,
	}

	decodeSingle := func(name string, target any) error {
		blocks := all.Singles[name]
		if len(blocks) == 0 {
			return nil
		}
		if diags := gohcl.DecodeBody(blocks[0].Body, modelsCtx, target); diags.HasErrors() {
			return fmt.Errorf("%s: %w", name, diags)
		}
		return nil
	}

	if err := decodeSingle("engine", cfg.Engine); err != nil {
		cfg.Close()
		return nil, err
	}
	if len(all.Singles["planner"]) > 0 {
		cfg.Planner = &PlannerConfig{}
		if err := decodeSingle("planner", cfg.Planner); err != nil {
			cfg.Close()
			return nil, err
		}
		cfg.Planner.Defaults()
	}
	if err := decodeSingle("storage", cfg.Storage); err != nil {
		cfg.Close()
		return nil, err
	}
	if err := decodeSingle("server", cfg.Server); err != nil {
		cfg.Close()
		return nil, err
	}
	if err := decodeSingle("log", cfg.Logging); err != nil {
		cfg.Close()
		return nil, err
	}

	cfg.Engine.Defaults()
	cfg.Storage.Defaults()
	cfg.Server.Defaults()
	cfg.Logging.Defaults()

	return cfg, nil
}

// buildVarsContext creates context with just vars
func buildVarsContext(vars []Variable) (*hcl.EvalContext, map[string]cty.Value) {
	varsMap := make(map[string]cty.Value)
	fileVars, _ := LoadVarsFromFile()
	for _, v := range vars {
		varsMap[v.Name] = cty.StringVal(resolveVariable(&v, fileVars))
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"vars": cty.ObjectVal(varsMap),
		},
	}, varsMap
}

// buildModelsContext adds models to existing context. Each entry evaluates
// to "block.model_key", the selector format tasks and plans use.
func buildModelsContext(ctx *hcl.EvalContext, models []Model) *hcl.EvalContext {
	modelsMap := make(map[string]cty.Value)
	for _, m := range models {
		providerModels := make(map[string]cty.Value)
		for _, modelKey := range m.AllowedModels {
			providerModels[modelKey] = cty.StringVal(m.Name + "." + modelKey)
		}
		modelsMap[m.Name] = cty.ObjectVal(providerModels)
	}

	newVars := make(map[string]cty.Value)
	for k, v := range ctx.Variables {
		newVars[k] = v
	}
	newVars["models"] = cty.ObjectVal(modelsMap)

	return &hcl.EvalContext{
		Variables: newVars,
	}
}

// parsePluginBlock parses a plugin block with its free-form settings block
func parsePluginBlock(block *hcl.Block, ctx *hcl.EvalContext) (*Plugin, error) {
	pluginName := block.Labels[0]

	pluginContent, diags := block.Body.Content(&hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "path"},
			{Name: "source"},
			{Name: "version"},
		},
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "settings"},
		},
	})
	if diags.HasErrors() {
		return nil, fmt.Errorf("plugin '%s': %w", pluginName, diags)
	}

	p := &Plugin{
		Name:     pluginName,
		Settings: make(map[string]string),
	}
	for name, dst := range map[string]*string{"path": &p.Path, "source": &p.Source, "version": &p.Version} {
		attr, ok := pluginContent.Attributes[name]
		if !ok {
			continue
		}
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("plugin '%s': %w", pluginName, diags)
		}
		if val.Type() != cty.String {
			return nil, fmt.Errorf("plugin '%s': %s must be a string", pluginName, name)
		}
		*dst = val.AsString()
	}

	for _, settingsBlock := range pluginContent.Blocks {
		attrs, diags := settingsBlock.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("plugin '%s' settings: %w", pluginName, diags)
		}

		for name, attr := range attrs {
			val, diags := attr.Expr.Value(ctx)
			if diags.HasErrors() {
				return nil, fmt.Errorf("plugin '%s' setting '%s': %w", pluginName, name, diags)
			}
			s, err := settingString(val)
			if err != nil {
				return nil, fmt.Errorf("plugin '%s' setting '%s': %w", pluginName, name, err)
			}
			p.Settings[name] = s
		}
	}

	return p, nil
}

func settingString(val cty.Value) (string, error) {
	switch val.Type() {
	case cty.String:
		return val.AsString(), nil
	case cty.Bool:
		return fmt.Sprintf("%v", val.True()), nil
	case cty.Number:
		return val.AsBigFloat().Text('f', -1), nil
	}
	return "", fmt.Errorf("unsupported type %s; use a string, number or bool", val.Type().FriendlyName())
}
