package llm_test

import (
	"cellgrid/llm"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Conversation", func() {
	var conv *llm.Conversation

	BeforeEach(func() {
		conv = llm.NewConversation("You answer questions about documents.")
		Expect(conv.AppendUser("What is the term?")).To(Succeed())
	})

	It("prepends system prompts", func() {
		msgs := conv.Messages()
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Role).To(Equal(llm.RoleSystem))
		Expect(msgs[1].Role).To(Equal(llm.RoleUser))
	})

	It("requires every tool call to be answered before the next turn", func() {
		a := llm.ToolCall{ID: "1", Name: "search"}
		b := llm.ToolCall{ID: "2", Name: "get_target"}
		Expect(conv.AppendAssistant(&llm.ChatResponse{ToolCalls: []llm.ToolCall{a, b}})).To(Succeed())
		Expect(conv.Ready()).To(BeFalse())

		Expect(conv.AppendUser("hurry up")).To(MatchError(llm.ErrUnansweredToolCalls))
		Expect(conv.AppendToolResult(a, `{"hits":0}`, false)).To(Succeed())
		Expect(conv.AppendToolResult(a, `{"hits":0}`, false)).To(MatchError(llm.ErrUnknownToolCall))
		Expect(conv.AppendToolResult(b, `{"error":"not found"}`, true)).To(Succeed())
		Expect(conv.Ready()).To(BeTrue())

		hist := conv.History()
		Expect(hist).To(HaveLen(4))
		Expect(hist[2].ToolCallID).To(Equal("1"))
		Expect(hist[3].IsError).To(BeTrue())
	})

	It("returns the last non-empty assistant content", func() {
		Expect(conv.AppendAssistant(&llm.ChatResponse{Content: "thinking about it"})).To(Succeed())
		Expect(conv.AppendUser("and?")).To(Succeed())
		Expect(conv.AppendAssistant(&llm.ChatResponse{Content: ""})).To(Succeed())
		Expect(conv.LastAssistantContent()).To(Equal("thinking about it"))
	})

	It("returns copies from History", func() {
		h := conv.History()
		h[0].Content = "changed"
		Expect(conv.History()[0].Content).To(Equal("What is the term?"))
	})
})

var _ = Describe("Registry", func() {
	var reg *llm.Registry

	BeforeEach(func() {
		reg = llm.NewRegistry()
		reg.Register("anthropic", llm.NewAnthropicProvider("k"), map[string]string{
			"claude_sonnet_4": "claude-sonnet-4-20250514",
		})
		reg.Register("local", llm.NewOpenAIProvider("k"), nil)
	})

	It("resolves a model key to its API name", func() {
		_, api, err := reg.Resolve("anthropic", "claude_sonnet_4")
		Expect(err).NotTo(HaveOccurred())
		Expect(api).To(Equal("claude-sonnet-4-20250514"))
	})

	It("accepts the API name directly", func() {
		_, api, err := reg.Resolve("anthropic", "claude-sonnet-4-20250514")
		Expect(err).NotTo(HaveOccurred())
		Expect(api).To(Equal("claude-sonnet-4-20250514"))
	})

	It("passes names through for providers without an allow-list", func() {
		_, api, err := reg.Resolve("local", "llama3")
		Expect(err).NotTo(HaveOccurred())
		Expect(api).To(Equal("llama3"))
	})

	It("rejects unknown providers and models", func() {
		_, _, err := reg.Resolve("mistral", "x")
		Expect(err).To(MatchError(llm.ErrUnknownProvider))
		_, _, err = reg.Resolve("anthropic", "claude_opus_9")
		Expect(err).To(MatchError(llm.ErrUnknownModel))
	})

	It("lists allowed models", func() {
		Expect(reg.Models()).To(ConsistOf(llm.ModelInfo{
			Provider: "anthropic", Key: "claude_sonnet_4", APIName: "claude-sonnet-4-20250514",
		}))
	})
})
