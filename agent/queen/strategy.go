package queen

import (
	"fmt"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// Strategy 执行策略（封闭枚举）
type Strategy string

const (
	StrategyDivideAndConquer     Strategy = "divide_and_conquer"
	StrategyParallelExecution    Strategy = "parallel_execution"
	StrategySequentialRefinement Strategy = "sequential_refinement"
	StrategyConsensusDriven      Strategy = "consensus_driven"
	StrategyAdaptiveLearning     Strategy = "adaptive_learning"
)

// refinementIterations sequential_refinement 的固定迭代次数
const refinementIterations = 3

// PhaseTask 阶段内的任务模板
type PhaseTask struct {
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// DecisionSpec 阶段开始前需要共识决定的问题
type DecisionSpec struct {
	Topic   string   `json:"topic"`
	Options []string `json:"options"`
}

// Phase 计划中的一个阶段
type Phase struct {
	Name              string        `json:"name"`
	Tasks             []PhaseTask   `json:"tasks"`
	Parallel          bool          `json:"parallel"`
	RequiresConsensus bool          `json:"requires_consensus"`
	Decision          *DecisionSpec `json:"decision,omitempty"`
}

// Plan 不可变的执行计划
type Plan struct {
	Objective            string    `json:"objective"`
	Strategy             Strategy  `json:"strategy"`
	Phases               []Phase   `json:"phases"`
	Workers              int       `json:"workers"`
	EstimatedDurationMin int       `json:"estimated_duration_min"`
	CreatedAt            time.Time `json:"created_at"`
}

// TaskCount 计划中的任务总数
func (p *Plan) TaskCount() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Tasks)
	}
	return n
}

// strategySpec 每种策略的描述与阶段生成函数
type strategySpec struct {
	Description string
	Phases      func(a *Analysis) []Phase
}

var strategies = map[Strategy]strategySpec{
	StrategyDivideAndConquer: {
		Description: "research, one phase per component, integration, then optimization and documentation",
		Phases:      divideAndConquerPhases,
	},
	StrategyParallelExecution: {
		Description: "agree on a partitioning, run one work stream per capability concurrently, then merge",
		Phases:      parallelExecutionPhases,
	},
	StrategySequentialRefinement: {
		Description: "fixed number of refinement iterations, each gated by consensus",
		Phases:      sequentialRefinementPhases,
	},
	StrategyConsensusDriven: {
		Description: "analyze, agree on an approach, implement, then validate",
		Phases:      consensusDrivenPhases,
	},
	StrategyAdaptiveLearning: {
		Description: "explore in parallel, vote on the best approach, exploit it, record lessons",
		Phases:      adaptiveLearningPhases,
	},
}

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	_, ok := strategies[s]
	return ok
}

// Description 返回策略说明
func (s Strategy) Description() string {
	return strategies[s].Description
}

// 决策选项中的措辞会被不同投票人格识别
var (
	approachOptions = []string{
		"simple direct approach",
		"scalable modular approach",
		"iterative incremental approach",
	}
	partitionOptions = []string{
		"partition by component for extensible independent streams",
		"partition by layer for quick handoffs",
	}
	refinementOptions = []string{
		"refine for maintainable long-term quality",
		"quick targeted fixes",
	}
)

// CreateExecutionPlan 根据分析结果与可用工作者数展开执行计划
func (q *Queen) CreateExecutionPlan(a *Analysis, workers int) *Plan {
	strategy := a.RecommendedStrategy
	spec, ok := strategies[strategy]
	if !ok {
		strategy = StrategyConsensusDriven
		spec = strategies[strategy]
	}
	if workers < 1 {
		workers = 1
	}

	optimal := max(a.ResourceEstimate.OptimalWorkers, 1)
	minutes := a.ResourceEstimate.EstimatedMinutes
	if workers < optimal {
		minutes = ceilDiv(minutes*optimal, workers)
	}

	return &Plan{
		Objective:            a.Objective,
		Strategy:             strategy,
		Phases:               spec.Phases(a),
		Workers:              workers,
		EstimatedDurationMin: minutes,
		CreatedAt:            time.Now(),
	}
}

func divideAndConquerPhases(a *Analysis) []Phase {
	phases := []Phase{{
		Name:     "research",
		Parallel: true,
		Tasks: []PhaseTask{
			{Description: "Research requirements and constraints for: " + a.Objective, Priority: 9},
			{Description: "Investigate existing system structure relevant to: " + a.Objective, Priority: 8},
		},
	}}
	for _, c := range a.Components {
		phases = append(phases, Phase{
			Name:     string(c),
			Parallel: true,
			Tasks: []PhaseTask{
				{Description: fmt.Sprintf("Design the %s architecture", c), Priority: 8},
				{Description: fmt.Sprintf("Implement the %s changes", c), Priority: 7},
				{Description: fmt.Sprintf("Test the %s functionality", c), Priority: 6},
			},
		})
	}
	phases = append(phases,
		Phase{
			Name: "integration",
			Tasks: []PhaseTask{
				{Description: "Integrate all components into one build", Priority: 7},
				{Description: "Verify end-to-end behavior with integration tests", Priority: 7},
			},
		},
		Phase{
			Name:     "optimization_and_documentation",
			Parallel: true,
			Tasks: []PhaseTask{
				{Description: "Optimize performance hot spots", Priority: 5},
				{Description: "Document the delivered system", Priority: 4},
			},
		},
	)
	return phases
}

func parallelExecutionPhases(a *Analysis) []Phase {
	streams := make([]PhaseTask, 0, len(a.RequiredCapabilities))
	for _, capType := range a.RequiredCapabilities {
		streams = append(streams, PhaseTask{
			Description: fmt.Sprintf("%s work stream: %s", streamVerb(capType), a.Objective),
			Priority:    7,
		})
	}
	return []Phase{
		{
			Name:              "partitioning",
			RequiresConsensus: true,
			Decision:          &DecisionSpec{Topic: "work partitioning", Options: partitionOptions},
			Tasks: []PhaseTask{
				{Description: "Plan the parallel work breakdown for: " + a.Objective, Priority: 9},
			},
		},
		{Name: "parallel_work", Parallel: true, Tasks: streams},
		{
			Name: "merge",
			Tasks: []PhaseTask{
				{Description: "Merge the parallel work streams", Priority: 7},
				{Description: "Validate the merged result", Priority: 6},
			},
		},
	}
}

func sequentialRefinementPhases(a *Analysis) []Phase {
	phases := make([]Phase, 0, refinementIterations)
	for i := 1; i <= refinementIterations; i++ {
		tasks := []PhaseTask{
			{Description: fmt.Sprintf("Iteration %d: implement the next revision of: %s", i, a.Objective), Priority: 8},
			{Description: fmt.Sprintf("Iteration %d: review the revision and collect feedback", i), Priority: 6},
		}
		if i == 1 {
			tasks = append([]PhaseTask{{Description: "Research the baseline for: " + a.Objective, Priority: 9}}, tasks...)
		}
		phases = append(phases, Phase{
			Name:              fmt.Sprintf("iteration_%d", i),
			RequiresConsensus: true,
			Decision: &DecisionSpec{
				Topic:   fmt.Sprintf("refinement focus (iteration %d)", i),
				Options: refinementOptions,
			},
			Tasks: tasks,
		})
	}
	return phases
}

func consensusDrivenPhases(a *Analysis) []Phase {
	impl := []PhaseTask{{Description: "Implement the core changes for: " + a.Objective, Priority: 8}}
	for _, c := range a.Components {
		impl = append(impl, PhaseTask{Description: fmt.Sprintf("Implement the %s changes", c), Priority: 7})
	}
	return []Phase{
		{
			Name:     "analysis",
			Parallel: true,
			Tasks: []PhaseTask{
				{Description: "Analyze the objective: " + a.Objective, Priority: 9},
				{Description: "Research constraints and prior art", Priority: 8},
			},
		},
		{
			Name:              "approach",
			RequiresConsensus: true,
			Decision:          &DecisionSpec{Topic: "solution approach", Options: approachOptions},
			Tasks: []PhaseTask{
				{Description: "Design the solution structure", Priority: 8},
			},
		},
		{Name: "implementation", Parallel: true, Tasks: impl},
		{
			Name:     "validation",
			Parallel: true,
			Tasks: []PhaseTask{
				{Description: "Test and validate the implementation", Priority: 7},
				{Description: "Review the changes for quality", Priority: 6},
			},
		},
	}
}

func adaptiveLearningPhases(a *Analysis) []Phase {
	explore := make([]PhaseTask, 0, len(a.RequiredCapabilities))
	for _, capType := range a.RequiredCapabilities {
		explore = append(explore, PhaseTask{
			Description: fmt.Sprintf("Explore a %s approach for: %s", capType, a.Objective),
			Priority:    7,
		})
	}
	return []Phase{
		{Name: "exploration", Parallel: true, Tasks: explore},
		{
			Name:              "evaluation",
			RequiresConsensus: true,
			Decision:          &DecisionSpec{Topic: "solution approach", Options: approachOptions},
			Tasks: []PhaseTask{
				{Description: "Analyze exploration results and report findings", Priority: 8},
			},
		},
		{
			Name:     "exploitation",
			Parallel: true,
			Tasks: []PhaseTask{
				{Description: "Implement the chosen approach for: " + a.Objective, Priority: 8},
				{Description: "Test the chosen approach", Priority: 7},
			},
		},
		{
			Name: "learning",
			Tasks: []PhaseTask{
				{Description: "Document lessons learned", Priority: 4},
			},
		},
	}
}

// streamVerb 每种能力的工作流描述前缀，使任务描述命中对应能力关键词
func streamVerb(c types.CapabilityType) string {
	switch c {
	case types.CapabilityResearcher:
		return "Research"
	case types.CapabilityCoder:
		return "Implement"
	case types.CapabilityAnalyst:
		return "Analyze data"
	case types.CapabilityTester:
		return "Test"
	case types.CapabilityArchitect:
		return "Design"
	case types.CapabilityReviewer:
		return "Review"
	case types.CapabilityOptimizer:
		return "Optimize"
	default:
		return "Document"
	}
}
