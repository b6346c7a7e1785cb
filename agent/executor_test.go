package agent_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	"cellgrid/agent"
	"cellgrid/aitools"
	"cellgrid/llm"
	"cellgrid/llm/llmtest"
	"cellgrid/task"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordedEvents) LogEvent(eventType string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

var _ = Describe("Executor", func() {
	var (
		dispatcher *aitools.Dispatcher
		def        task.Definition
		tc         aitools.ToolContext
		events     *recordedEvents
	)

	newExecutor := func(p llm.Provider, iterationCap int) *agent.Executor {
		exec, err := agent.NewExecutor(agent.Options{
			Resolver:     llmtest.Registry(p),
			Dispatcher:   dispatcher,
			IterationCap: iterationCap,
			EventLogger:  events,
		})
		Expect(err).NotTo(HaveOccurred())
		return exec
	}

	BeforeEach(func() {
		dispatcher = aitools.NewDispatcher()
		Expect(dispatcher.Register(&aitools.TargetLookupTool{})).To(Succeed())
		events = &recordedEvents{}
		def = task.Definition{
			ID:        "verdict",
			Prompt:    "Does the contract pass review?",
			Model:     task.ModelSelector{Provider: "test", Name: "model-x"},
			MaxTokens: 512,
			Tools:     []string{"get_target"},
			Shape:     task.OutputShape{Kind: task.ShapeText},
			Kind:      task.KindModel,
		}
		tc = aitools.ToolContext{CollectionID: "c1", Target: task.TargetSummary{ID: "doc-1", Name: "MSA"}}
	})

	It("returns on the first tool-free response", func() {
		p := llmtest.NewScripted(llmtest.Text("```json\n{\"answer\":\"Pass\"}\n```"))
		res, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Result).To(Equal("Pass"))
		Expect(res.Value).To(Equal(task.TextValue{Text: "Pass"}))
		Expect(res.Iterations).To(Equal(1))
		Expect(res.Degraded).To(BeFalse())
		Expect(res.CapReached).To(BeFalse())

		reqs := p.Requests()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].ToolChoice).To(Equal(llm.ToolChoiceAuto))
		Expect(reqs[0].Tools).To(HaveLen(1))
		Expect(reqs[0].Model).To(Equal("model-x"))
		Expect(reqs[0].Messages[0].Role).To(Equal(llm.RoleSystem))
	})

	It("reads the answer object past a bracketed citation", func() {
		p := llmtest.NewScripted(llmtest.Text("Per clause [3] the verdict is:\n{\"answer\":\"Fail\"}"))
		res, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Result).To(Equal("Fail"))
		Expect(res.Degraded).To(BeFalse())
	})

	It("does not offer tools when the allow-list is empty", func() {
		def = def.WithTools()
		p := llmtest.NewScripted(llmtest.Text(`{"answer": "Pass"}`))
		_, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Requests()[0].Tools).To(BeEmpty())
	})

	It("keeps explanation and source from the answer envelope", func() {
		p := llmtest.NewScripted(llmtest.Text(`{"answer": "Fail", "explanation": "Missing signature", "source": "Signed: ____"}`))
		res, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Explanation).To(Equal("Missing signature"))
		Expect(res.Source).To(Equal("Signed: ____"))
	})

	It("feeds tool errors back to the model and continues", func() {
		p := llmtest.NewScripted(
			llmtest.Calls(llm.ToolCall{ID: "t1", Name: "get_target", Args: map[string]any{"id": "doc-9"}}),
			llmtest.Text(`{"answer": "Pass", "explanation": "doc-9 does not exist"}`),
		)
		res, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Result).To(Equal("Pass"))
		Expect(res.Iterations).To(Equal(2))
		Expect(res.ToolCalls).To(HaveLen(1))
		Expect(res.ToolCalls[0].IsError).To(BeTrue())

		second := p.Requests()[1]
		last := second.Messages[len(second.Messages)-1]
		Expect(last.Role).To(Equal(llm.RoleTool))
		Expect(last.ToolCallID).To(Equal("t1"))
		Expect(last.Content).To(Equal(`{"error":"not found"}`))
		Expect(last.IsError).To(BeTrue())
	})

	It("answers every tool call of a turn in order", func() {
		p := llmtest.NewScripted(
			llmtest.Calls(
				llm.ToolCall{ID: "a", Name: "get_target", Args: map[string]any{}},
				llm.ToolCall{ID: "b", Name: "get_target", Args: map[string]any{"id": "doc-1"}},
			),
			llmtest.Text(`{"answer": "Pass"}`),
		)
		_, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())

		msgs := p.Requests()[1].Messages
		n := len(msgs)
		Expect(msgs[n-2].ToolCallID).To(Equal("a"))
		Expect(msgs[n-1].ToolCallID).To(Equal("b"))
		Expect(msgs[n-1].Content).To(ContainSubstring(`"id":"doc-1"`))
	})

	It("respects the cap and forbids tools on the last call", func() {
		p := llmtest.NewScripted()
		p.Fallback = func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			if req.ToolChoice == llm.ToolChoiceNone {
				return &llm.ChatResponse{Content: `{"answer": "Fail"}`, Usage: llm.Usage{InputTokens: 1}}, nil
			}
			return &llm.ChatResponse{
				ToolCalls: []llm.ToolCall{{ID: "lookup", Name: "get_target", Args: map[string]any{}}},
				Usage:     llm.Usage{InputTokens: 1},
			}, nil
		}

		res, err := newExecutor(p, 3).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())

		reqs := p.Requests()
		Expect(reqs).To(HaveLen(3))
		Expect(reqs[0].ToolChoice).To(Equal(llm.ToolChoiceAuto))
		Expect(reqs[1].ToolChoice).To(Equal(llm.ToolChoiceAuto))
		Expect(reqs[2].ToolChoice).To(Equal(llm.ToolChoiceNone))
		lastMsgs := reqs[2].Messages
		Expect(lastMsgs[len(lastMsgs)-1].Role).To(Equal(llm.RoleUser))
		Expect(lastMsgs[len(lastMsgs)-1].Content).To(ContainSubstring("Do not call any more tools"))

		Expect(res.CapReached).To(BeTrue())
		Expect(res.Result).To(Equal("Fail"))
		Expect(res.Iterations).To(Equal(3))
		Expect(res.Usage.InputTokens).To(Equal(3))
		Expect(res.ToolCalls).To(HaveLen(2))
	})

	It("ignores tool calls a provider returns on the final turn", func() {
		p := llmtest.NewScripted(
			llmtest.Calls(llm.ToolCall{ID: "a", Name: "get_target", Args: map[string]any{}}),
			llmtest.Reply{Response: &llm.ChatResponse{
				Content:   `{"answer": "Pass"}`,
				ToolCalls: []llm.ToolCall{{ID: "b", Name: "get_target"}},
			}},
		)
		res, err := newExecutor(p, 2).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Result).To(Equal("Pass"))
		Expect(res.ToolCalls).To(HaveLen(1))
	})

	It("falls back to the last assistant text when the final reply is empty", func() {
		p := llmtest.NewScripted(
			llmtest.Reply{Response: &llm.ChatResponse{
				Content:   `{"answer": "Pass"}`,
				ToolCalls: []llm.ToolCall{{ID: "a", Name: "get_target", Args: map[string]any{}}},
			}},
			llmtest.Text(""),
		)
		res, err := newExecutor(p, 2).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.CapReached).To(BeTrue())
		Expect(res.Result).To(Equal("Pass"))
	})

	It("degrades an unparseable answer to a prefix of the text", func() {
		long := "I believe the contract passes review because every clause checks out, mostly."
		p := llmtest.NewScripted(llmtest.Text(long))
		res, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Degraded).To(BeTrue())
		Expect(res.Value).To(BeNil())
		Expect(res.Result).To(Equal(long[:50]))
		Expect(res.Explanation).To(Equal(long))
		Expect(events.events).To(ContainElement(agent.EventDegraded))
	})

	It("degrades an answer that does not fit the shape", func() {
		def = def.WithShape(task.OutputShape{Kind: task.ShapeStatus, Labels: []string{"Pass", "Fail"}})
		p := llmtest.NewScripted(llmtest.Text(`{"answer": "Unclear"}`))
		res, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Degraded).To(BeTrue())
	})

	It("decodes typed shapes", func() {
		def = def.WithShape(task.OutputShape{Kind: task.ShapeNumber})
		p := llmtest.NewScripted(llmtest.Text(`{"answer": 36, "explanation": "term in months"}`))
		res, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Value).To(Equal(task.NumberValue{Number: 36}))
		Expect(res.Result).To(Equal("36"))
	})

	It("refuses tools outside the allow-list", func() {
		Expect(dispatcher.Register(&aitools.HTTPGetTool{})).To(Succeed())
		p := llmtest.NewScripted(
			llmtest.Calls(llm.ToolCall{ID: "a", Name: "http_get", Args: map[string]any{"url": "http://example.com"}}),
			llmtest.Text(`{"answer": "Pass"}`),
		)
		res, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ToolCalls[0].IsError).To(BeTrue())
		msgs := p.Requests()[1].Messages
		Expect(msgs[len(msgs)-1].Content).To(ContainSubstring("not available"))
	})

	It("wraps model failures", func() {
		cause := errors.New("overloaded")
		p := llmtest.NewScripted(llmtest.Failure(cause))
		_, err := newExecutor(p, 5).Run(context.Background(), def, tc)

		var mie *agent.ModelInvocationError
		Expect(errors.As(err, &mie)).To(BeTrue())
		Expect(mie.Iteration).To(Equal(1))
		Expect(err).To(MatchError(cause))
	})

	It("reports unknown models as invocation errors", func() {
		def = def.WithModel(task.ModelSelector{Provider: "nope", Name: "x"})
		_, err := newExecutor(llmtest.NewScripted(), 5).Run(context.Background(), def, tc)
		var mie *agent.ModelInvocationError
		Expect(errors.As(err, &mie)).To(BeTrue())
		Expect(err).To(MatchError(llm.ErrUnknownProvider))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newExecutor(llmtest.NewScripted(), 5).Run(ctx, def, tc)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("emits model turn and tool call events", func() {
		p := llmtest.NewScripted(
			llmtest.Calls(llm.ToolCall{ID: "a", Name: "get_target", Args: map[string]any{}}),
			llmtest.Text(`{"answer": "Pass"}`),
		)
		_, err := newExecutor(p, 5).Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(events.events).To(Equal([]string{agent.EventModelTurn, agent.EventToolCall, agent.EventModelTurn}))
	})

	It("writes turn logs when configured", func() {
		dir := GinkgoT().TempDir()
		exec, err := agent.NewExecutor(agent.Options{
			Resolver:   llmtest.Registry(llmtest.NewScripted(llmtest.Text(`{"answer":"Pass"}`))),
			Dispatcher: dispatcher,
			TurnLogDir: dir,
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = exec.Run(context.Background(), def, tc)
		Expect(err).NotTo(HaveOccurred())
		Expect(dir).To(BeADirectory())
		entries, _ := listDir(dir)
		Expect(entries).To(HaveLen(1))
		Expect(strings.HasPrefix(entries[0], "verdict_doc-1_")).To(BeTrue())
	})

	It("validates the iteration cap", func() {
		_, err := agent.NewExecutor(agent.Options{Resolver: llm.NewRegistry(), IterationCap: 11})
		Expect(err).To(HaveOccurred())
		exec, err := agent.NewExecutor(agent.Options{Resolver: llm.NewRegistry()})
		Expect(err).NotTo(HaveOccurred())
		Expect(exec.IterationCap()).To(Equal(agent.DefaultIterationCap))
	})
})
