package queen

import (
	"math"

	"github.com/BaSui01/swarmflow/types"
)

// Complexity 目标复杂度等级
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityVeryHigh Complexity = "very_high"
)

// baseTaskCount 各复杂度等级的基础任务数
var baseTaskCount = map[Complexity]int{
	ComplexityLow:      5,
	ComplexityMedium:   10,
	ComplexityHigh:     20,
	ComplexityVeryHigh: 30,
}

// Component 目标中识别出的领域组件
type Component string

const (
	ComponentBackend    Component = "backend"
	ComponentFrontend   Component = "frontend"
	ComponentData       Component = "data"
	ComponentAuth       Component = "auth"
	ComponentTesting    Component = "testing"
	ComponentDeployment Component = "deployment"
	ComponentMonitoring Component = "monitoring"
)

type componentSpec struct {
	keywords     []string
	capabilities []types.CapabilityType
}

// componentOrder 固定的组件识别顺序
var componentOrder = []Component{
	ComponentBackend,
	ComponentFrontend,
	ComponentData,
	ComponentAuth,
	ComponentTesting,
	ComponentDeployment,
	ComponentMonitoring,
}

var componentSpecs = map[Component]componentSpec{
	ComponentBackend: {
		keywords:     []string{"api", "apis", "server", "backend", "endpoint", "endpoints", "service", "services", "rest", "graphql"},
		capabilities: []types.CapabilityType{types.CapabilityCoder, types.CapabilityArchitect},
	},
	ComponentFrontend: {
		keywords:     []string{"ui", "frontend", "interface", "react", "vue", "page", "pages", "component", "components"},
		capabilities: []types.CapabilityType{types.CapabilityCoder},
	},
	ComponentData: {
		keywords:     []string{"database", "data", "storage", "sql", "schema", "cache", "model", "models"},
		capabilities: []types.CapabilityType{types.CapabilityAnalyst, types.CapabilityArchitect},
	},
	ComponentAuth: {
		keywords:     []string{"auth", "login", "authentication", "authorization", "security", "permission", "permissions"},
		capabilities: []types.CapabilityType{types.CapabilityCoder, types.CapabilityReviewer},
	},
	ComponentTesting: {
		keywords:     []string{"test", "tests", "testing", "spec", "coverage", "qa"},
		capabilities: []types.CapabilityType{types.CapabilityTester},
	},
	ComponentDeployment: {
		keywords:     []string{"deploy", "deployment", "docker", "kubernetes", "ci", "cd", "release", "pipeline"},
		capabilities: []types.CapabilityType{types.CapabilityArchitect, types.CapabilityOptimizer},
	},
	ComponentMonitoring: {
		keywords:     []string{"monitor", "monitoring", "logging", "metrics", "alert", "alerts", "observability"},
		capabilities: []types.CapabilityType{types.CapabilityAnalyst, types.CapabilityOptimizer},
	},
}

var complexityKeywords = wordSet(
	"complex", "complicated", "distributed", "scalable", "scale", "optimize",
	"refactor", "architecture", "integrate", "integration", "migrate", "migration",
	"microservice", "microservices", "concurrent", "realtime", "enterprise",
)

var parallelKeywords = wordSet(
	"parallel", "concurrent", "concurrently", "simultaneous", "simultaneously",
	"independent", "independently",
)

var iterativeKeywords = wordSet(
	"iterate", "iterative", "iteratively", "iteration", "refine", "refinement",
	"improve", "incremental", "incrementally", "polish",
)

// ResourceEstimate 资源预估
type ResourceEstimate struct {
	MinWorkers       int `json:"min_workers"`
	OptimalWorkers   int `json:"optimal_workers"`
	EstimatedMinutes int `json:"estimated_minutes"`
}

// Analysis 目标分析结果
type Analysis struct {
	Objective            string                 `json:"objective"`
	ComplexityScore      int                    `json:"complexity_score"`
	Complexity           Complexity             `json:"complexity"`
	Components           []Component            `json:"components"`
	RequiredCapabilities []types.CapabilityType `json:"required_capabilities"`
	EstimatedTaskCount   int                    `json:"estimated_task_count"`
	RecommendedStrategy  Strategy               `json:"recommended_strategy"`
	ResourceEstimate     ResourceEstimate       `json:"resource_estimate"`
}

// AnalyzeObjective 分析目标文本，给出复杂度、组件、所需能力、任务数与推荐策略
func (q *Queen) AnalyzeObjective(objective string) *Analysis {
	words := types.Tokenize(objective)

	components := identifyComponents(words)
	score := 1
	if len(objective) > 100 {
		score = 2
	}
	score += countWords(words, complexityKeywords) + len(components)

	complexity := complexityFor(score)
	taskCount := baseTaskCount[complexity] + 3*len(components)

	a := &Analysis{
		Objective:            objective,
		ComplexityScore:      score,
		Complexity:           complexity,
		Components:           components,
		RequiredCapabilities: requiredCapabilities(components),
		EstimatedTaskCount:   taskCount,
		ResourceEstimate: ResourceEstimate{
			MinWorkers:       min(3, ceilDiv(taskCount, 10)),
			OptimalWorkers:   min(8, ceilDiv(taskCount, 5)),
			EstimatedMinutes: 5 * taskCount,
		},
	}
	a.RecommendedStrategy = q.selectStrategy(words, a)
	return a
}

// selectStrategy 按优先级选择执行策略
func (q *Queen) selectStrategy(words []string, a *Analysis) Strategy {
	switch {
	case len(a.Components) >= 3 && a.Complexity != ComplexityLow:
		return StrategyDivideAndConquer
	case countWords(words, parallelKeywords) > 0 || len(a.Components) > 5:
		return StrategyParallelExecution
	case countWords(words, iterativeKeywords) > 0:
		return StrategySequentialRefinement
	case q.typ == TypeAdaptive:
		return StrategyAdaptiveLearning
	default:
		return StrategyConsensusDriven
	}
}

func complexityFor(score int) Complexity {
	switch {
	case score <= 3:
		return ComplexityLow
	case score <= 6:
		return ComplexityMedium
	case score <= 9:
		return ComplexityHigh
	default:
		return ComplexityVeryHigh
	}
}

func identifyComponents(words []string) []Component {
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}
	var out []Component
	for _, c := range componentOrder {
		for _, kw := range componentSpecs[c].keywords {
			if present[kw] {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// requiredCapabilities 组件映射出的能力类型，始终包含 researcher，按固定顺序排列
func requiredCapabilities(components []Component) []types.CapabilityType {
	need := map[types.CapabilityType]bool{types.CapabilityResearcher: true}
	for _, c := range components {
		for _, capType := range componentSpecs[c].capabilities {
			need[capType] = true
		}
	}
	out := make([]types.CapabilityType, 0, len(need))
	for _, capType := range types.CapabilityOrder {
		if need[capType] {
			out = append(out, capType)
		}
	}
	return out
}

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func countWords(words []string, set map[string]bool) int {
	n := 0
	for _, w := range words {
		if set[w] {
			n++
		}
	}
	return n
}

func ceilDiv(a, b int) int {
	return int(math.Ceil(float64(a) / float64(b)))
}
