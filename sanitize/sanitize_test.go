package sanitize_test

import (
	"cellgrid/sanitize"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Sanitize", func() {

	Describe("clean input", func() {
		It("parses a bare object", func() {
			v, err := sanitize.Sanitize(`{"answer": "yes"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"answer": "yes"}))
		})

		It("parses a bare array", func() {
			v, err := sanitize.Sanitize(`[1, 2, 3]`)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal([]any{1.0, 2.0, 3.0}))
		})
	})

	Describe("fenced output", func() {
		It("strips a json fence and trailing prose", func() {
			raw := "```json\n{\"a\":1}\n```\nHope this helps!"
			v, err := sanitize.Sanitize(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"a": 1.0}))
		})

		It("recovers the answer object from a fenced reply", func() {
			raw := "```json\n{\"answer\":\"Pass\"}\n```"
			obj, err := sanitize.Object(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(obj).To(HaveKeyWithValue("answer", "Pass"))
		})

		It("handles a fence without an info string", func() {
			v, err := sanitize.Sanitize("Here you go:\n```\n{\"ok\": true}\n```")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"ok": true}))
		})

		It("handles an unterminated fence", func() {
			v, err := sanitize.Sanitize("```json\n{\"ok\": true}")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"ok": true}))
		})
	})

	Describe("surrounding prose", func() {
		It("skips leading prose before the first brace", func() {
			v, err := sanitize.Sanitize(`Sure! The result is {"n": 4}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"n": 4.0}))
		})

		It("skips a bracketed citation in the leading prose", func() {
			v, err := sanitize.Sanitize("Per clause [3] the verdict is:\n{\"answer\":\"Pass\"}")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"answer": "Pass"}))
		})

		It("skips a bracketed word that is not JSON", func() {
			v, err := sanitize.Sanitize(`[Draft] {"answer":"Pass"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"answer": "Pass"}))
		})

		It("prefers the object over a citation when prose follows both", func() {
			v, err := sanitize.Sanitize(`see [3]: {"answer":"Fail"} and {this}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"answer": "Fail"}))
		})

		It("extracts the recovered JSON text", func() {
			Expect(sanitize.Extract(`see [3] then {"a": 1} thanks`)).To(Equal(`{"a": 1}`))
			Expect(sanitize.Extract("no json here")).To(BeEmpty())
		})

		It("ignores trailing prose that contains braces", func() {
			v, err := sanitize.Sanitize(`{"n": 4} let me know if you need {more}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"n": 4.0}))
		})
	})

	Describe("control characters", func() {
		It("escapes a literal newline inside a string value", func() {
			raw := "{\"text\": \"line1\nline2\"}"
			v, err := sanitize.Sanitize(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"text": "line1\nline2"}))
		})

		It("escapes tabs and carriage returns and drops other control characters", func() {
			raw := "{\"text\": \"a\tb\r\nc\x01d\"}"
			v, err := sanitize.Sanitize(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"text": "a\tb\r\ncd"}))
		})

		It("leaves whitespace between tokens alone", func() {
			Expect(sanitize.EscapeControlChars("{\n\"a\": \"b\"\n}")).To(Equal("{\n\"a\": \"b\"\n}"))
		})

		It("respects escaped quotes inside strings", func() {
			out := sanitize.EscapeControlChars("{\"a\": \"say \\\"hi\\\"\nnow\"}")
			Expect(out).To(Equal("{\"a\": \"say \\\"hi\\\"\\nnow\"}"))
		})
	})

	Describe("failure", func() {
		It("fails when there is no JSON at all", func() {
			_, err := sanitize.Sanitize("I could not find an answer.")
			Expect(err).To(MatchError(sanitize.ErrMalformedResponse))
		})

		It("fails on JSON that cannot be repaired", func() {
			_, err := sanitize.Sanitize(`{"a": }`)
			Expect(err).To(MatchError(sanitize.ErrMalformedResponse))
		})

		It("rejects non-object values from Object", func() {
			_, err := sanitize.Object(`[1, 2]`)
			Expect(err).To(MatchError(sanitize.ErrMalformedResponse))
		})
	})

	Describe("SanitizeInto", func() {
		It("decodes into a struct", func() {
			var out struct {
				Answer string `json:"answer"`
				Source string `json:"source"`
			}
			err := sanitize.SanitizeInto("```json\n{\"answer\": \"42\", \"source\": \"p. 3\"}\n```", &out)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Answer).To(Equal("42"))
			Expect(out.Source).To(Equal("p. 3"))
		})
	})
})
