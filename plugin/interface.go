// Package plugin runs tool handlers in separate processes over go-plugin's
// net/rpc transport.
package plugin

import (
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"

	"cellgrid/aitools"
)

// Handshake is shared by the host and every tool plugin.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CELLGRID_PLUGIN",
	MagicCookieValue: "cellgrid-tools",
}

// PluginMap is the map of plugins we can dispense.
var PluginMap = map[string]goplugin.Plugin{
	"tool": &ToolPlugin{},
}

// ToolInfo describes one tool a plugin provides.
type ToolInfo struct {
	Name        string
	Description string
	Schema      aitools.Schema
}

// ToolProvider is implemented by plugin processes.
type ToolProvider interface {
	// Configure passes settings from the HCL plugin block
	Configure(settings map[string]string) error

	// ListTools returns info for all tools this plugin provides
	ListTools() ([]*ToolInfo, error)

	// Call invokes a tool with a JSON object payload and returns its result
	Call(toolName string, payload string) (string, error)
}

// ToolPlugin adapts a ToolProvider to go-plugin's net/rpc protocol. Impl is
// only set on the plugin side.
type ToolPlugin struct {
	Impl ToolProvider
}

func (p *ToolPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *ToolPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// CallArgs is the request of ToolProvider.Call.
type CallArgs struct {
	ToolName string
	Payload  string
}

// RPCClient is the host side of a ToolProvider.
type RPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps an established net/rpc connection.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

func (c *RPCClient) Configure(settings map[string]string) error {
	var resp struct{}
	return c.client.Call("Plugin.Configure", settings, &resp)
}

func (c *RPCClient) ListTools() ([]*ToolInfo, error) {
	var resp []*ToolInfo
	if err := c.client.Call("Plugin.ListTools", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *RPCClient) Call(toolName string, payload string) (string, error) {
	var resp string
	err := c.client.Call("Plugin.Call", CallArgs{ToolName: toolName, Payload: payload}, &resp)
	return resp, err
}

// RPCServer is the plugin side of a ToolProvider.
type RPCServer struct {
	Impl ToolProvider
}

func (s *RPCServer) Configure(settings map[string]string, _ *struct{}) error {
	return s.Impl.Configure(settings)
}

func (s *RPCServer) ListTools(_ struct{}, resp *[]*ToolInfo) error {
	tools, err := s.Impl.ListTools()
	if err != nil {
		return err
	}
	*resp = tools
	return nil
}

func (s *RPCServer) Call(args CallArgs, resp *string) error {
	out, err := s.Impl.Call(args.ToolName, args.Payload)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

// Serve runs impl as a plugin process. It blocks until the host disconnects.
func Serve(impl ToolProvider) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"tool": &ToolPlugin{Impl: impl},
		},
	})
}
