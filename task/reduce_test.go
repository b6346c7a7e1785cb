package task_test

import (
	"time"

	"cellgrid/task"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reduce", func() {
	var (
		def  task.Definition
		key  task.Key
		base time.Time
	)

	BeforeEach(func() {
		def = modelTask("effective_date")
		key = task.Key{Target: "doc-1", TaskID: def.ID}
		base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	})

	It("moves pending to running and bumps the attempt", func() {
		s := task.Reduce(task.Initial(def), def, task.MarkRunning{Key: key, At: base})
		Expect(s.Status).To(Equal(task.StatusRunning))
		Expect(s.Attempt).To(Equal(1))
		Expect(s.UpdatedAt).To(Equal(base))
	})

	It("ignores a second MarkRunning while already running", func() {
		s := task.Reduce(task.Initial(def), def, task.MarkRunning{Key: key, At: base})
		again := task.Reduce(s, def, task.MarkRunning{Key: key, At: base.Add(time.Second)})
		Expect(again).To(Equal(s))
	})

	It("records the outcome on Complete", func() {
		s := task.Reduce(task.Initial(def), def, task.MarkRunning{Key: key, At: base})
		s = task.Reduce(s, def, task.Complete{Key: key, At: base.Add(time.Second), Outcome: task.Outcome{
			Value:       task.TextValue{Text: "2024-01-01"},
			Result:      "2024-01-01",
			Explanation: "Stated in section 1",
			Source:      "effective as of January 1, 2024",
			Usage:       task.Usage{InputTokens: 100, OutputTokens: 20},
			Latency:     time.Second,
		}})
		Expect(s.Status).To(Equal(task.StatusComplete))
		Expect(s.Result).To(Equal("2024-01-01"))
		Expect(s.Value).To(Equal(task.TextValue{Text: "2024-01-01"}))
		Expect(s.Usage.InputTokens).To(Equal(100))
		Expect(s.Attempt).To(Equal(1))
	})

	It("leaves the state of the last event after Complete, Fail, Complete", func() {
		first := task.Outcome{Result: "A", Value: task.TextValue{Text: "A"}}
		second := task.Outcome{Result: "B", Value: task.TextValue{Text: "B"}, Explanation: "rerun"}

		s := task.Initial(def)
		s = task.Reduce(s, def, task.MarkRunning{Key: key, At: base})
		s = task.Reduce(s, def, task.Complete{Key: key, Outcome: first, At: base})
		s = task.Reduce(s, def, task.MarkRunning{Key: key, At: base})
		s = task.Reduce(s, def, task.Fail{Key: key, Err: "boom", At: base})
		Expect(s.Status).To(Equal(task.StatusError))
		Expect(s.Result).To(BeEmpty())
		Expect(s.Error).To(Equal("boom"))

		s = task.Reduce(s, def, task.MarkRunning{Key: key, At: base})
		s = task.Reduce(s, def, task.Complete{Key: key, Outcome: second, At: base})
		Expect(s.Status).To(Equal(task.StatusComplete))
		Expect(s.Result).To(Equal("B"))
		Expect(s.Explanation).To(Equal("rerun"))
		Expect(s.Error).To(BeEmpty())
		Expect(s.Attempt).To(Equal(3))
	})

	Describe("manual cells", func() {
		It("start complete with an empty result", func() {
			s := task.Initial(manualTask("notes"))
			Expect(s.Status).To(Equal(task.StatusComplete))
			Expect(s.Result).To(BeEmpty())
		})

		It("accept ManualEdit", func() {
			m := manualTask("notes")
			k := task.Key{Target: "doc-1", TaskID: m.ID}
			s := task.Reduce(task.Initial(m), m, task.ManualEdit{Key: k, Value: "looks fine", At: base})
			Expect(s.Status).To(Equal(task.StatusComplete))
			Expect(s.Result).To(Equal("looks fine"))
			Expect(s.Value).To(Equal(task.TextValue{Text: "looks fine"}))
		})

		It("parse the edit against the shape", func() {
			m := manualTask("approved").WithShape(task.OutputShape{Kind: task.ShapeBoolean})
			k := task.Key{Target: "doc-1", TaskID: m.ID}
			s := task.Reduce(task.Initial(m), m, task.ManualEdit{Key: k, Value: "yes", At: base})
			Expect(s.Value).To(Equal(task.BoolValue{Bool: true}))
		})

		It("never run", func() {
			m := manualTask("notes")
			k := task.Key{Target: "doc-1", TaskID: m.ID}
			s := task.Reduce(task.Initial(m), m, task.MarkRunning{Key: k, At: base})
			Expect(s.Status).To(Equal(task.StatusComplete))
		})
	})

	It("ignores ManualEdit on a model cell", func() {
		s := task.Initial(def)
		Expect(task.Reduce(s, def, task.ManualEdit{Key: key, Value: "x", At: base})).To(Equal(s))
	})
})
