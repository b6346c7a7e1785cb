package engine_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cellgrid/agent"
	"cellgrid/aitools"
	"cellgrid/engine"
	"cellgrid/scheduler"
	"cellgrid/store"
	"cellgrid/streamers"
	"cellgrid/task"
)

var _ = Describe("Engine", func() {
	var (
		exec  *fakeExecutor
		cells *scheduler.Limiter
		st    *store.MemoryStore
		eng   *engine.Engine
		ctx   context.Context
	)

	newEngine := func(opts engine.Options) *engine.Engine {
		if opts.Executor == nil {
			opts.Executor = exec
		}
		if opts.Cells == nil {
			opts.Cells = cells
		}
		e, err := engine.New(opts)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(e.Close)
		return e
	}

	BeforeEach(func() {
		exec = &fakeExecutor{}
		cells = scheduler.New("cells", 4)
		st = store.NewMemoryStore()
		ctx = context.Background()
		eng = newEngine(engine.Options{Store: st})
	})

	It("requires an executor and a cells limiter", func() {
		_, err := engine.New(engine.Options{Cells: cells})
		Expect(err).To(HaveOccurred())
		_, err = engine.New(engine.Options{Executor: exec})
		Expect(err).To(HaveOccurred())
	})

	Describe("Populate", func() {
		It("creates one cell per task and matching target", func() {
			plan := &task.Plan{
				Title:       "Review",
				Description: "Contract checks",
				Groups: []task.Group{
					{Name: "Everything", Tasks: []task.Definition{modelTask("summary"), manualTask("pages")}},
					{Name: "Only doc-2", Filter: task.TargetFilter{IDs: []string{"doc-2"}}, Tasks: []task.Definition{modelTask("clause")}},
				},
			}
			c, err := eng.Populate("col", plan, docs("doc-1", "doc-2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Title).To(Equal("Review"))
			Expect(c.Description).To(Equal("Contract checks"))
			Expect(c.States).To(HaveLen(5))

			s, _ := c.State(task.Key{Target: "doc-1", TaskID: "summary"})
			Expect(s.Status).To(Equal(task.StatusPending))
			s, _ = c.State(task.Key{Target: "doc-1", TaskID: "pages"})
			Expect(s.Status).To(Equal(task.StatusComplete))
			_, ok := c.State(task.Key{Target: "doc-1", TaskID: "clause"})
			Expect(ok).To(BeFalse())

			stored, err := st.LoadCollection(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.States).To(HaveLen(5))
			storedPlan, err := eng.Plan(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			Expect(storedPlan.TaskCount()).To(Equal(3))
		})

		It("generates an id when none is given", func() {
			c, err := eng.Populate("", planOf(modelTask("a")), docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID).NotTo(BeEmpty())
			Expect(eng.GetState(c.ID)).To(HaveLen(1))
		})

		It("keeps the plan without a store", func() {
			e := newEngine(engine.Options{})
			_, err := e.Populate("col", planOf(modelTask("a"), modelTask("b")), docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())

			plan, err := e.Plan(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			Expect(plan).NotTo(BeNil())
			Expect(plan.TaskCount()).To(Equal(2))

			_, err = e.CreateCollection("col", "By hand", docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())
			plan, err = e.Plan(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			Expect(plan).To(BeNil())
		})

		It("reads the plan of a restored collection from the store", func() {
			_, err := eng.Populate("col", planOf(modelTask("a")), docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())

			fresh := newEngine(engine.Options{Store: st})
			_, err = fresh.Restore(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			plan, err := fresh.Plan(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.TaskCount()).To(Equal(1))
		})

		It("rejects invalid plans", func() {
			_, err := eng.Populate("col", &task.Plan{Title: "Empty"}, docs("doc-1"))
			Expect(err).To(MatchError(ContainSubstring("no tasks")))
		})
	})

	Describe("SubmitPlan", func() {
		It("fails without a planner", func() {
			_, err := eng.SubmitPlan(ctx, "review these", docs("doc-1"))
			Expect(err).To(MatchError(engine.ErrNoPlanner))
		})

		It("returns the planner's plan", func() {
			e := newEngine(engine.Options{Planner: &fakePlanner{plan: planOf(modelTask("a"))}})
			plan, err := e.SubmitPlan(ctx, "review these", docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.TaskCount()).To(Equal(1))
		})

		It("passes planner errors through", func() {
			boom := errors.New("boom")
			e := newEngine(engine.Options{Planner: &fakePlanner{err: boom}})
			_, err := e.SubmitPlan(ctx, "review these", nil)
			Expect(err).To(MatchError(boom))
		})
	})

	Describe("structural changes", func() {
		BeforeEach(func() {
			_, err := eng.Populate("col", planOf(modelTask("a"), modelTask("b")), docs("doc-1", "doc-2"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("adds and removes targets", func() {
			Expect(eng.AddTarget("col", task.TargetSummary{ID: "doc-3"})).To(Succeed())
			Expect(eng.GetState("col")).To(HaveLen(6))

			Expect(eng.RemoveTarget("col", "doc-1")).To(Succeed())
			Expect(eng.GetState("col")).To(HaveLen(4))

			stored, err := st.LoadCollection(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.States).To(HaveLen(4))
			Expect(stored.Targets).To(HaveLen(2))
		})

		It("removes a task across all targets", func() {
			Expect(eng.RemoveTask("col", "a")).To(Succeed())
			for k := range eng.GetState("col") {
				Expect(k.TaskID).To(Equal("b"))
			}
			stored, err := st.LoadCollection(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.States).To(HaveLen(2))
		})

		It("resets cells when a definition changes", func() {
			c, _ := eng.Collection("col")
			def, _ := c.Task("a")
			_, err := eng.RunTask(ctx, "col", def, docs("doc-1")[0])
			Expect(err).NotTo(HaveOccurred())

			Expect(eng.UpdateTask("col", def.WithPrompt("Answer differently"))).To(Succeed())
			s := eng.GetState("col")[task.Key{Target: "doc-1", TaskID: "a"}]
			Expect(s.Status).To(Equal(task.StatusPending))
			Expect(s.Attempt).To(Equal(1))
		})

		It("rejects updates to unknown tasks", func() {
			err := eng.UpdateTask("col", modelTask("zzz"))
			Expect(err).To(MatchError(engine.ErrUnknownCell))
		})

		It("adds tasks after population", func() {
			Expect(eng.AddTask("col", modelTask("c"))).To(Succeed())
			Expect(eng.GetState("col")).To(HaveLen(6))
			Expect(eng.AddTask("col", task.Definition{ID: "bad"})).NotTo(Succeed())
		})

		It("reports unknown collections", func() {
			Expect(eng.AddTarget("nope", task.TargetSummary{ID: "x"})).To(MatchError(engine.ErrUnknownCollection))
			Expect(eng.GetState("nope")).To(BeNil())
			_, err := eng.Progress("nope")
			Expect(err).To(MatchError(engine.ErrUnknownCollection))
		})

		It("returns snapshots that later transitions do not change", func() {
			before := eng.GetState("col")
			c, _ := eng.Collection("col")
			def, _ := c.Task("a")
			_, err := eng.RunTask(ctx, "col", def, docs("doc-1")[0])
			Expect(err).NotTo(HaveOccurred())

			Expect(before[task.Key{Target: "doc-1", TaskID: "a"}].Status).To(Equal(task.StatusPending))
			s, _ := c.State(task.Key{Target: "doc-1", TaskID: "a"})
			Expect(s.Status).To(Equal(task.StatusPending))
		})

		It("looks up targets for tools", func() {
			t, ok := eng.LookupTarget("col", "doc-2")
			Expect(ok).To(BeTrue())
			Expect(t.Name).To(Equal("Document doc-2"))
			_, ok = eng.LookupTarget("col", "doc-9")
			Expect(ok).To(BeFalse())

			var src aitools.TargetSource = eng
			Expect(src).NotTo(BeNil())
		})
	})

	Describe("Edit", func() {
		BeforeEach(func() {
			_, err := eng.Populate("col", planOf(modelTask("a"), manualTask("pages")), docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("sets a manual cell's value", func() {
			key := task.Key{Target: "doc-1", TaskID: "pages"}
			Expect(eng.Edit("col", key, "42")).To(Succeed())
			s := eng.GetState("col")[key]
			Expect(s.Status).To(Equal(task.StatusComplete))
			Expect(s.Result).To(Equal("42"))
			Expect(s.Value).To(Equal(task.NumberValue{Number: 42}))

			stored, err := st.LoadCollection(ctx, "col")
			Expect(err).NotTo(HaveOccurred())
			storedState, _ := stored.State(key)
			Expect(storedState.Value).To(Equal(task.NumberValue{Number: 42}))
		})

		It("refuses model cells", func() {
			err := eng.Edit("col", task.Key{Target: "doc-1", TaskID: "a"}, "x")
			Expect(err).To(MatchError(engine.ErrNotManual))
		})
	})

	Describe("progress notifications", func() {
		It("calls every registered function after each transition", func() {
			var mu sync.Mutex
			var seen []task.Progress
			stop := eng.OnProgress(func(p task.Progress) {
				mu.Lock()
				seen = append(seen, p)
				mu.Unlock()
			})

			c, err := eng.Populate("col", planOf(modelTask("a")), docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())
			def, _ := c.Task("a")
			_, err = eng.RunTask(ctx, "col", def, c.Targets[0])
			Expect(err).NotTo(HaveOccurred())

			mu.Lock()
			last := seen[len(seen)-1]
			count := len(seen)
			mu.Unlock()
			Expect(last.Complete).To(Equal(1))
			Expect(last.Done()).To(BeTrue())

			stop()
			Expect(eng.AddTarget("col", task.TargetSummary{ID: "doc-2"})).To(Succeed())
			mu.Lock()
			defer mu.Unlock()
			Expect(seen).To(HaveLen(count))
		})

		It("publishes transitions on the bus in order", func() {
			c, err := eng.Populate("col", planOf(modelTask("a")), docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())

			id, ch := eng.Bus().Subscribe(16)
			defer eng.Bus().Unsubscribe(id)

			def, _ := c.Task("a")
			_, err = eng.RunTask(ctx, "col", def, c.Targets[0])
			Expect(err).NotTo(HaveOccurred())

			var statuses []task.Status
			for len(statuses) < 2 {
				var ev engine.Event
				Eventually(ch).Should(Receive(&ev))
				Expect(ev.Type).To(Equal(engine.EventTransition))
				Expect(ev.CollectionID).To(Equal("col"))
				Expect(ev.ID).NotTo(BeEmpty())
				statuses = append(statuses, ev.State.Status)
			}
			Expect(statuses).To(Equal([]task.Status{task.StatusRunning, task.StatusComplete}))
		})
	})

	Describe("Stream", func() {
		It("maps transitions to handler calls", func() {
			h := &recordingHandler{}
			c, err := eng.Populate("col", planOf(modelTask("a")), docs("doc-1", "doc-2"))
			Expect(err).NotTo(HaveOccurred())
			stop := eng.Stream("col", h)

			exec.fn = func(_ context.Context, def task.Definition, tc aitools.ToolContext) (*agent.ExecutionResult, error) {
				if tc.Target.ID == "doc-2" {
					return nil, errors.New("provider down")
				}
				return &agent.ExecutionResult{Result: "ok"}, nil
			}
			def, _ := c.Task("a")
			_, _ = eng.RunTask(ctx, "col", def, c.Targets[0])
			_, _ = eng.RunTask(ctx, "col", def, c.Targets[1])

			Eventually(h.Count).Should(Equal(4))
			stop()
			Expect(h.Lines()).To(ConsistOf(
				"started doc-1/a",
				"completed doc-1/a ok",
				"started doc-2/a",
				"failed doc-2/a provider down",
			))
		})
	})

	Describe("Restore", func() {
		It("reloads stored collections and fails interrupted cells", func() {
			c, err := eng.Populate("col", planOf(modelTask("a"), modelTask("b")), docs("doc-1"))
			Expect(err).NotTo(HaveOccurred())
			def, _ := c.Task("a")
			_, err = eng.RunTask(ctx, "col", def, c.Targets[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(st.SaveState(ctx, "col", task.Key{Target: "doc-1", TaskID: "b"}, task.State{Status: task.StatusRunning, Attempt: 1})).To(Succeed())

			fresh := newEngine(engine.Options{Store: st})
			n, err := fresh.RestoreAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			states := fresh.GetState("col")
			Expect(states[task.Key{Target: "doc-1", TaskID: "a"}].Result).To(Equal("a@doc-1"))
			Expect(states[task.Key{Target: "doc-1", TaskID: "a"}].Value).To(Equal(task.TextValue{Text: "a@doc-1"}))
			b := states[task.Key{Target: "doc-1", TaskID: "b"}]
			Expect(b.Status).To(Equal(task.StatusError))
			Expect(b.Error).To(Equal("interrupted"))
		})

		It("reports missing collections", func() {
			_, err := eng.Restore(ctx, "missing")
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})
})

// recordingHandler records cell events as short lines.
type recordingHandler struct {
	streamers.NopGridHandler
	mu    sync.Mutex
	lines []string
}

func (h *recordingHandler) add(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, line)
}

func (h *recordingHandler) CellStarted(key task.Key, _ task.Definition, _ int) {
	h.add("started " + key.String())
}

func (h *recordingHandler) CellCompleted(key task.Key, _ task.Definition, st task.State) {
	h.add("completed " + key.String() + " " + st.Result)
}

func (h *recordingHandler) CellFailed(key task.Key, _ task.Definition, msg string) {
	h.add("failed " + key.String() + " " + msg)
}

func (h *recordingHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lines)
}

func (h *recordingHandler) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}
