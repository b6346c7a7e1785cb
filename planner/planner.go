// Package planner turns a free-text request into an execution plan with a
// single model call.
package planner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"

	"cellgrid/llm"
	"cellgrid/sanitize"
	"cellgrid/task"
)

// ErrMalformedPlan is returned when the model's plan cannot be parsed or
// fails validation.
var ErrMalformedPlan = errors.New("malformed plan")

// Resolver maps a model selector to a provider and API model name.
type Resolver interface {
	Resolve(provider, model string) (llm.Provider, string, error)
}

// Defaults fill in fields a planned task leaves out.
type Defaults struct {
	Model       task.ModelSelector
	Temperature float64
	MaxTokens   int
}

type Options struct {
	Resolver Resolver
	// Model is used for the planning call itself.
	Model       task.ModelSelector
	Temperature float64
	MaxTokens   int
	Defaults    Defaults
	// Models and Tools are described to the model. Planned tasks may only
	// reference tools listed here.
	Models []llm.ModelInfo
	Tools  []llm.ToolDefinition
	// Cache memoizes plans by request (optional)
	Cache  *Cache
	Logger hclog.Logger
}

type Planner struct {
	opts   Options
	logger hclog.Logger
}

func New(opts Options) (*Planner, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("planner needs a model resolver")
	}
	if opts.Model.IsZero() {
		opts.Model = opts.Defaults.Model
	}
	if opts.Model.IsZero() {
		return nil, fmt.Errorf("planner needs a model")
	}
	if opts.Defaults.Model.IsZero() {
		opts.Defaults.Model = opts.Model
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	if opts.Defaults.MaxTokens == 0 {
		opts.Defaults.MaxTokens = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Planner{opts: opts, logger: logger.Named("planner")}, nil
}

// Plan asks the planning model for a plan covering targets. The call offers
// no tools. Any parse or validation failure is fatal and wraps
// ErrMalformedPlan.
func (p *Planner) Plan(ctx context.Context, request string, targets []task.TargetSummary) (*task.Plan, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("plan request is empty")
	}

	var key string
	if p.opts.Cache != nil {
		key = CacheKey(p.opts.Model, request, targets)
		if plan, ok := p.opts.Cache.Get(key); ok {
			p.logger.Debug("plan cache hit", "key", key[:12])
			return plan, nil
		}
	}

	provider, model, err := p.opts.Resolver.Resolve(p.opts.Model.Provider, p.opts.Model.Name)
	if err != nil {
		return nil, fmt.Errorf("planner model: %w", err)
	}

	conv := llm.NewConversation(systemPrompt(p.opts.Models, p.opts.Defaults.Model, p.opts.Tools))
	if err := conv.AppendUser(userPrompt(request, targets)); err != nil {
		return nil, err
	}
	resp, err := provider.Chat(ctx, &llm.ChatRequest{
		Model:       model,
		Messages:    conv.Messages(),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("planner model call: %w", err)
	}

	plan, err := p.decode(resp.Content)
	if err != nil {
		p.logger.Warn("planner returned an unusable plan", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrMalformedPlan, err)
	}

	p.logger.Info("plan created",
		"title", plan.Title,
		"groups", len(plan.Groups),
		"tasks", plan.TaskCount(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	if p.opts.Cache != nil {
		p.opts.Cache.Set(key, plan)
	}
	return plan, nil
}

// planDTO is the JSON the model writes. Shapes and models are plain
// strings here and become typed on conversion.
type planDTO struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Groups      []groupDTO `json:"groups"`
	// Tasks is accepted for single-group plans.
	Tasks []taskDTO `json:"tasks"`
}

type groupDTO struct {
	Name   string            `json:"name"`
	Filter task.TargetFilter `json:"filter"`
	Tasks  []taskDTO         `json:"tasks"`
}

type taskDTO struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Prompt         string   `json:"prompt"`
	Shape          string   `json:"shape"`
	Labels         []string `json:"labels"`
	Tools          []string `json:"tools"`
	Model          string   `json:"model"`
	Kind           string   `json:"kind"`
	Temperature    *float64 `json:"temperature"`
	MaxTokens      *int     `json:"max_tokens"`
	ThinkingBudget int      `json:"thinking_budget"`
}

func (p *Planner) decode(raw string) (*task.Plan, error) {
	var dto planDTO
	if err := sanitize.SanitizeInto(raw, &dto); err != nil {
		return nil, err
	}
	if len(dto.Groups) == 0 && len(dto.Tasks) > 0 {
		dto.Groups = []groupDTO{{Name: "Tasks", Tasks: dto.Tasks}}
	}

	plan := &task.Plan{
		Title:       strings.TrimSpace(dto.Title),
		Description: strings.TrimSpace(dto.Description),
	}
	var errs []error
	n := 0
	for _, g := range dto.Groups {
		group := task.Group{Name: g.Name, Filter: g.Filter}
		for _, t := range g.Tasks {
			n++
			def, err := p.toDefinition(t, n)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			group.Tasks = append(group.Tasks, def)
		}
		plan.Groups = append(plan.Groups, group)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Planner) toDefinition(t taskDTO, n int) (task.Definition, error) {
	id := t.ID
	if id == "" {
		id = slug(t.Name)
	}
	if id == "" {
		id = fmt.Sprintf("task_%d", n)
	}

	shape, err := task.ParseShape(t.Shape)
	if err != nil {
		return task.Definition{}, fmt.Errorf("task '%s': %w", id, err)
	}

	kind := task.KindModel
	if strings.EqualFold(t.Kind, string(task.KindManual)) {
		kind = task.KindManual
	}

	def := task.Definition{
		ID:             id,
		Name:           t.Name,
		Prompt:         t.Prompt,
		Model:          p.opts.Defaults.Model,
		Temperature:    p.opts.Defaults.Temperature,
		MaxTokens:      p.opts.Defaults.MaxTokens,
		ThinkingBudget: t.ThinkingBudget,
		Shape:          task.OutputShape{Kind: shape, Labels: t.Labels},
		Kind:           kind,
	}
	if shape != task.ShapeStatus {
		def.Shape.Labels = nil
	}
	if t.Model != "" {
		m, err := task.ParseModelSelector(t.Model)
		if err != nil {
			return task.Definition{}, fmt.Errorf("task '%s': %w", id, err)
		}
		if _, _, err := p.opts.Resolver.Resolve(m.Provider, m.Name); err != nil {
			p.logger.Warn("planned task names an unknown model, using default", "task", id, "model", t.Model)
		} else {
			def.Model = m
		}
	}
	if t.Temperature != nil {
		def.Temperature = *t.Temperature
	}
	if t.MaxTokens != nil {
		def.MaxTokens = *t.MaxTokens
	}

	for _, name := range t.Tools {
		if p.knownTool(name) {
			def.Tools = append(def.Tools, name)
		} else {
			p.logger.Warn("planned task names an unknown tool, dropping it", "task", id, "tool", name)
		}
	}
	return def.Normalize(), nil
}

func (p *Planner) knownTool(name string) bool {
	return slices.ContainsFunc(p.opts.Tools, func(t llm.ToolDefinition) bool {
		return t.Name == name
	})
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}
