package plugin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"time"

	"cellgrid/aitools"
	"cellgrid/plugin"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeProvider struct {
	settings map[string]string
	block    chan struct{}
}

func (f *fakeProvider) Configure(settings map[string]string) error {
	f.settings = settings
	return nil
}

func (f *fakeProvider) ListTools() ([]*plugin.ToolInfo, error) {
	return []*plugin.ToolInfo{
		{
			Name:        "shout",
			Description: "Upper-cases text",
			Schema: aitools.Schema{
				Type:       aitools.TypeObject,
				Properties: aitools.PropertyMap{"text": {Type: aitools.TypeString}},
				Required:   []string{"text"},
			},
		},
		{Name: "slow", Description: "Never returns on its own"},
	}, nil
}

func (f *fakeProvider) Call(toolName string, payload string) (string, error) {
	switch toolName {
	case "shout":
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(payload), &args); err != nil {
			return "", err
		}
		if args.Text == "" {
			return "", errors.New("text is required")
		}
		return `{"text":"` + args.Text + `!"}`, nil
	case "slow":
		<-f.block
		return "done", nil
	}
	return "plain reply", nil
}

// connect serves impl over an in-memory net/rpc connection, the way
// go-plugin does for a dispensed plugin.
func connect(impl plugin.ToolProvider) *plugin.PluginClient {
	server := rpc.NewServer()
	Expect(server.RegisterName("Plugin", &plugin.RPCServer{Impl: impl})).To(Succeed())

	serverConn, clientConn := net.Pipe()
	go server.ServeConn(serverConn)

	client := rpc.NewClient(clientConn)
	DeferCleanup(client.Close)
	return plugin.NewPluginClient("fake", plugin.NewRPCClient(client), nil)
}

var _ = Describe("Plugin RPC", func() {
	var (
		impl   *fakeProvider
		client *plugin.PluginClient
	)

	BeforeEach(func() {
		impl = &fakeProvider{block: make(chan struct{})}
		DeferCleanup(func() { close(impl.block) })
		client = connect(impl)
	})

	It("passes settings to the plugin", func() {
		Expect(client.Configure(map[string]string{"root": "/docs"})).To(Succeed())
		Expect(impl.settings).To(HaveKeyWithValue("root", "/docs"))
	})

	It("lists tools with their schemas", func() {
		tools, err := client.ListTools()
		Expect(err).NotTo(HaveOccurred())
		Expect(tools).To(HaveLen(2))
		Expect(tools[0].Name).To(Equal("shout"))
		Expect(tools[0].Schema.Required).To(Equal([]string{"text"}))
		Expect(tools[0].Schema.Properties).To(HaveKey("text"))
	})

	It("adapts plugin tools for the dispatcher", func() {
		tools, err := client.Tools()
		Expect(err).NotTo(HaveOccurred())

		d := aitools.NewDispatcher()
		for _, t := range tools {
			Expect(d.Register(t)).To(Succeed())
		}

		res := d.Dispatch(context.Background(), "shout", map[string]any{"text": "hi"}, aitools.ToolContext{})
		Expect(res).To(Equal(json.RawMessage(`{"text":"hi!"}`)))
		Expect(d.Encode(res)).To(Equal(`{"text":"hi!"}`))
	})

	It("turns plugin errors into error results", func() {
		tools, err := client.Tools()
		Expect(err).NotTo(HaveOccurred())
		d := aitools.NewDispatcher()
		Expect(d.Register(tools[0])).To(Succeed())

		res := d.Dispatch(context.Background(), "shout", map[string]any{}, aitools.ToolContext{})
		Expect(aitools.IsError(res)).To(BeTrue())
		Expect(d.Encode(res)).To(ContainSubstring("text is required"))
	})

	It("returns non-JSON replies as strings", func() {
		res, err := plugin.NewPluginTool(impl, &plugin.ToolInfo{Name: "other"}).
			Call(context.Background(), map[string]any{}, aitools.ToolContext{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal("plain reply"))
	})

	It("stops waiting when the context is cancelled", func() {
		tools, err := client.Tools()
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = tools[1].Call(ctx, map[string]any{}, aitools.ToolContext{})
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
