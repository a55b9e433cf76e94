package cypher

// Plan represents an execution plan for a parsed query.
type Plan struct {
	Steps      []PlanStep
	ReturnSpec *ReturnClause
}

// PlanStep is a single step in the execution plan.
type PlanStep interface {
	stepType() string
}

// ScanFunctions finds functions matching label and/or inline property filters.
type ScanFunctions struct {
	Variable string
	Label    string
	Props    map[string]string
}

func (*ScanFunctions) stepType() string { return "scan" }

// ExpandCalls follows call edges from bound functions to match targets.
type ExpandCalls struct {
	FromVar   string // source variable (already bound)
	ToVar     string // target variable (to bind)
	ToLabel   string // optional label on the target
	ToProps   map[string]string
	EdgeType  string // "" or "CALLS"
	Direction string // "outbound", "inbound", "any"
	MinHops   int
	MaxHops   int
}

func (*ExpandCalls) stepType() string { return "expand" }

// FilterWhere applies WHERE conditions to the bindings.
type FilterWhere struct {
	Conditions []Condition
	Operator   string // "AND" or "OR"
}

func (*FilterWhere) stepType() string { return "filter" }

// BuildPlan converts a parsed Query AST into an execution Plan.
func BuildPlan(q *Query) (*Plan, error) {
	plan := &Plan{ReturnSpec: q.Return}

	elements := q.Match.Pattern.Elements
	if len(elements) == 0 {
		return plan, nil
	}

	firstNode := elements[0].(*NodePattern)
	plan.Steps = append(plan.Steps, &ScanFunctions{
		Variable: firstNode.Variable,
		Label:    firstNode.Label,
		Props:    firstNode.Props,
	})

	// Push WHERE conditions that reference only the first scan variable
	// BEFORE any expand steps, so fewer bindings get expanded.
	var earlyFilters []Condition
	var lateFilters []Condition

	if q.Where != nil {
		scanVar := firstNode.Variable
		hasExpand := len(elements) > 1

		if hasExpand && q.Where.Operator == "AND" {
			for _, c := range q.Where.Conditions {
				if c.Variable == scanVar {
					earlyFilters = append(earlyFilters, c)
				} else {
					lateFilters = append(lateFilters, c)
				}
			}
		} else {
			// OR conditions can't be split; without an expand there's no point
			lateFilters = q.Where.Conditions
		}
	}

	if len(earlyFilters) > 0 {
		plan.Steps = append(plan.Steps, &FilterWhere{
			Conditions: earlyFilters,
			Operator:   "AND",
		})
	}

	// Relationship-node pairs
	for i := 1; i+1 < len(elements); i += 2 {
		rel := elements[i].(*RelPattern)
		targetNode := elements[i+1].(*NodePattern)

		plan.Steps = append(plan.Steps, &ExpandCalls{
			FromVar:   elements[i-1].(*NodePattern).Variable,
			ToVar:     targetNode.Variable,
			ToLabel:   targetNode.Label,
			ToProps:   targetNode.Props,
			EdgeType:  rel.Type,
			Direction: rel.Direction,
			MinHops:   rel.MinHops,
			MaxHops:   rel.MaxHops,
		})
	}

	if len(lateFilters) > 0 {
		plan.Steps = append(plan.Steps, &FilterWhere{
			Conditions: lateFilters,
			Operator:   q.Where.Operator,
		})
	} else if q.Where != nil && len(earlyFilters) == 0 {
		plan.Steps = append(plan.Steps, &FilterWhere{
			Conditions: q.Where.Conditions,
			Operator:   q.Where.Operator,
		})
	}

	return plan, nil
}
