package plugin

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"cellgrid/aitools"
)

// PluginClient wraps a go-plugin client and provides access to the tool plugin
type PluginClient struct {
	client   *goplugin.Client
	provider ToolProvider
	name     string
}

// GetPluginsDir returns the base directory for installed plugins
func GetPluginsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cellgrid", "plugins"), nil
}

// GetPluginPath returns the path of an installed plugin executable
func GetPluginPath(name, version string) (string, error) {
	pluginsDir, err := GetPluginsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(pluginsDir, name, version, "plugin"), nil
}

// LoadPlugin starts the plugin executable at path. An empty path loads the
// installed plugin for name and version.
func LoadPlugin(name, version, path string, logger hclog.Logger) (*PluginClient, error) {
	if path == "" {
		var err error
		path, err = GetPluginPath(name, version)
		if err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("plugin not found: %s at %s", name, path)
	}

	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "plugin",
			Output: os.Stderr,
			Level:  hclog.Error,
		})
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path),
		Logger:           logger.Named(name),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense("tool")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	provider, ok := raw.(ToolProvider)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin does not implement ToolProvider interface")
	}

	return NewPluginClient(name, provider, client), nil
}

// NewPluginClient wraps an already dispensed provider. client may be nil
// when the provider is not backed by a process.
func NewPluginClient(name string, provider ToolProvider, client *goplugin.Client) *PluginClient {
	return &PluginClient{client: client, provider: provider, name: name}
}

// Configure passes settings to the plugin
func (p *PluginClient) Configure(settings map[string]string) error {
	return p.provider.Configure(settings)
}

// ListTools returns info for all tools this plugin provides
func (p *PluginClient) ListTools() ([]*ToolInfo, error) {
	return p.provider.ListTools()
}

// Tools returns every tool of the plugin as an aitools.Tool
func (p *PluginClient) Tools() ([]aitools.Tool, error) {
	infos, err := p.provider.ListTools()
	if err != nil {
		return nil, fmt.Errorf("plugin '%s': list tools: %w", p.name, err)
	}
	tools := make([]aitools.Tool, len(infos))
	for i, info := range infos {
		tools[i] = NewPluginTool(p.provider, info)
	}
	return tools, nil
}

// Close shuts down the plugin
func (p *PluginClient) Close() {
	if p.client != nil {
		p.client.Kill()
	}
}

// Name returns the plugin name
func (p *PluginClient) Name() string {
	return p.name
}
