package cypher

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/codetreehq/codetree/internal/store"
)

const maxResultRows = 200

// Executor runs query plans against one repository's call graph.
type Executor struct {
	Store *store.Store
	Repo  string
}

// Result holds the tabular output of a query.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// binding maps pattern variables to matched functions.
type binding map[string]*store.Function

// Execute parses, plans, and executes a query.
func (e *Executor) Execute(query string) (*Result, error) {
	q, err := Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	plan, err := BuildPlan(q)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return e.executePlan(plan)
}

func (e *Executor) executePlan(plan *Plan) (*Result, error) {
	var bindings []binding

	for i, step := range plan.Steps {
		var err error
		switch s := step.(type) {
		case *ScanFunctions:
			bindings, err = e.execScan(s)
		case *ExpandCalls:
			bindings, err = e.execExpand(s, bindings)
		case *FilterWhere:
			bindings, err = e.execFilter(s, bindings)
		default:
			return nil, fmt.Errorf("unknown step type: %T", step)
		}
		if err != nil {
			return nil, err
		}
		// Only cap after the last step or after expand (which can explode).
		// Never cap between scan and filter — the filter needs all candidates.
		isLastStep := i == len(plan.Steps)-1
		_, isExpand := step.(*ExpandCalls)
		if isLastStep || isExpand {
			if len(bindings) > maxResultRows*2 {
				bindings = bindings[:maxResultRows*2]
			}
		}
	}

	return projectResults(bindings, plan.ReturnSpec)
}

func (e *Executor) execScan(s *ScanFunctions) ([]binding, error) {
	if s.Label != "" && s.Label != "Function" {
		return nil, fmt.Errorf("unknown label %q, only Function exists", s.Label)
	}

	fns, err := e.Store.AllFunctions(e.Repo)
	if err != nil {
		return nil, fmt.Errorf("scan functions: %w", err)
	}

	var bindings []binding
	for _, f := range fns {
		if len(s.Props) > 0 && !matchesProps(f, s.Props) {
			continue
		}
		b := binding{}
		if s.Variable != "" {
			b[s.Variable] = f
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func (e *Executor) execExpand(s *ExpandCalls, bindings []binding) ([]binding, error) {
	if len(bindings) == 0 {
		return nil, nil
	}
	if s.EdgeType != "" && s.EdgeType != "CALLS" {
		return nil, fmt.Errorf("unknown relationship type %q, only CALLS exists", s.EdgeType)
	}
	if s.ToLabel != "" && s.ToLabel != "Function" {
		return nil, fmt.Errorf("unknown label %q, only Function exists", s.ToLabel)
	}

	isVariableLength := s.MinHops != 1 || s.MaxHops != 1

	var result []binding
	for _, b := range bindings {
		from, ok := b[s.FromVar]
		if !ok {
			continue
		}

		var targets []*store.Function
		var err error
		if isVariableLength {
			targets, err = e.expandVariableLength(from, s)
		} else {
			targets, err = e.neighbors(from.ID, s.Direction)
		}
		if err != nil {
			return nil, err
		}

		for _, target := range targets {
			if len(s.ToProps) > 0 && !matchesProps(target, s.ToProps) {
				continue
			}
			newB := copyBinding(b)
			if s.ToVar != "" {
				newB[s.ToVar] = target
			}
			result = append(result, newB)
		}

		if len(result) > maxResultRows*2 {
			result = result[:maxResultRows*2]
			break
		}
	}
	return result, nil
}

// neighbors returns the functions one call edge away.
func (e *Executor) neighbors(id int64, direction string) ([]*store.Function, error) {
	switch direction {
	case "inbound":
		return e.Store.Callers(id)
	case "any":
		out, err := e.Store.Callees(id)
		if err != nil {
			return nil, err
		}
		in, err := e.Store.Callers(id)
		if err != nil {
			return nil, err
		}
		seen := make(map[int64]bool, len(out))
		merged := make([]*store.Function, 0, len(out)+len(in))
		for _, f := range out {
			seen[f.ID] = true
			merged = append(merged, f)
		}
		for _, f := range in {
			if !seen[f.ID] {
				merged = append(merged, f)
			}
		}
		return merged, nil
	default:
		return e.Store.Callees(id)
	}
}

func (e *Executor) expandVariableLength(from *store.Function, s *ExpandCalls) ([]*store.Function, error) {
	maxDepth := s.MaxHops
	if maxDepth == 0 {
		maxDepth = 10 // cap unbounded
	}

	directions := []string{store.DirectionCallees}
	switch s.Direction {
	case "inbound":
		directions = []string{store.DirectionCallers}
	case "any":
		directions = []string{store.DirectionCallees, store.DirectionCallers}
	}

	seen := make(map[int64]bool)
	var targets []*store.Function
	for _, dir := range directions {
		res, err := e.Store.BFS(from.ID, dir, maxDepth, maxResultRows)
		if err != nil {
			return nil, fmt.Errorf("bfs: %w", err)
		}
		for _, hop := range res.Visited {
			if hop.Hop < s.MinHops {
				continue
			}
			if s.MaxHops > 0 && hop.Hop > s.MaxHops {
				continue
			}
			if seen[hop.Function.ID] {
				continue
			}
			seen[hop.Function.ID] = true
			targets = append(targets, hop.Function)
		}
	}
	return targets, nil
}

func (e *Executor) execFilter(s *FilterWhere, bindings []binding) ([]binding, error) {
	var result []binding
	for _, b := range bindings {
		match, err := evaluateConditions(b, s.Conditions, s.Operator)
		if err != nil {
			return nil, err
		}
		if match {
			result = append(result, b)
		}
	}
	return result, nil
}

func evaluateConditions(b binding, conditions []Condition, op string) (bool, error) {
	if op == "OR" {
		for _, c := range conditions {
			ok, err := evaluateCondition(b, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	// AND (default)
	for _, c := range conditions {
		ok, err := evaluateCondition(b, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateCondition(b binding, c Condition) (bool, error) {
	f, ok := b[c.Variable]
	if !ok {
		return false, nil
	}
	actual := functionProperty(f, c.Property)

	switch c.Operator {
	case "=":
		return fmt.Sprintf("%v", actual) == c.Value, nil
	case "=~":
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		matched, err := regexp.MatchString(c.Value, s)
		if err != nil {
			return false, fmt.Errorf("regex %q: %w", c.Value, err)
		}
		return matched, nil
	case "CONTAINS":
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(s, c.Value), nil
	case "STARTS WITH":
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return strings.HasPrefix(s, c.Value), nil
	case ">", "<", ">=", "<=":
		return compareNumeric(actual, c.Value, c.Operator)
	default:
		return false, fmt.Errorf("unsupported operator: %s", c.Operator)
	}
}

func compareNumeric(actual any, expected string, op string) (bool, error) {
	expectedNum, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false, nil
	}
	var actualNum float64
	switch v := actual.(type) {
	case int:
		actualNum = float64(v)
	case int64:
		actualNum = float64(v)
	case float64:
		actualNum = v
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false, nil
		}
		actualNum = n
	default:
		return false, nil
	}

	switch op {
	case ">":
		return actualNum > expectedNum, nil
	case "<":
		return actualNum < expectedNum, nil
	case ">=":
		return actualNum >= expectedNum, nil
	case "<=":
		return actualNum <= expectedNum, nil
	default:
		return false, nil
	}
}

func functionProperty(f *store.Function, prop string) any {
	switch prop {
	case "name":
		return f.Name
	case "qualified_name":
		return f.QualifiedName
	case "full_name":
		return f.FullName()
	case "module":
		return f.ModuleName
	case "class":
		return f.ClassName
	case "file_path":
		return f.FilePath
	case "lineno":
		return f.Lineno
	case "end_lineno":
		return f.EndLineno
	case "is_entry":
		return f.IsEntry
	case "short_description":
		return f.ShortDescription
	case "input_output_description":
		return f.InputOutputDescription
	case "long_description":
		return f.LongDescription
	case "id":
		return f.ID
	default:
		return nil
	}
}

func projectResults(bindings []binding, ret *ReturnClause) (*Result, error) {
	if ret == nil {
		return defaultProjection(bindings)
	}

	for _, item := range ret.Items {
		if item.Func == "COUNT" {
			return aggregateResults(bindings, ret)
		}
	}

	return simpleProjection(bindings, ret)
}

func defaultProjection(bindings []binding) (*Result, error) {
	if len(bindings) == 0 {
		return &Result{Columns: []string{}, Rows: []map[string]any{}}, nil
	}

	varSet := make(map[string]bool)
	for _, b := range bindings {
		for k := range b {
			varSet[k] = true
		}
	}
	var cols []string
	for k := range varSet {
		cols = append(cols, k+".full_name", k+".file_path")
	}
	sort.Strings(cols)

	var rows []map[string]any
	for _, b := range bindings {
		row := make(map[string]any)
		for varName, f := range b {
			row[varName+".full_name"] = f.FullName()
			row[varName+".file_path"] = f.FilePath
		}
		rows = append(rows, row)
	}

	if len(rows) > maxResultRows {
		rows = rows[:maxResultRows]
	}

	return &Result{Columns: cols, Rows: rows}, nil
}

func simpleProjection(bindings []binding, ret *ReturnClause) (*Result, error) {
	cols := returnColumns(ret.Items)

	seen := make(map[string]bool)
	var rows []map[string]any
	for _, b := range bindings {
		row := make(map[string]any)
		for i, item := range ret.Items {
			f, ok := b[item.Variable]
			if !ok {
				row[cols[i]] = nil
				continue
			}
			if item.Property == "" {
				row[cols[i]] = wholeFunction(f)
			} else {
				row[cols[i]] = functionProperty(f, item.Property)
			}
		}

		if ret.Distinct {
			key := fmt.Sprintf("%v", row)
			if seen[key] {
				continue
			}
			seen[key] = true
		}

		rows = append(rows, row)
	}

	if ret.OrderBy != "" {
		orderCol := ret.OrderBy
		for i, item := range ret.Items {
			if item.Alias == orderCol {
				orderCol = cols[i]
				break
			}
		}
		sortRows(rows, orderCol, ret.OrderDir)
	}

	limit := ret.Limit
	if limit <= 0 || limit > maxResultRows {
		limit = maxResultRows
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return &Result{Columns: cols, Rows: rows}, nil
}

func aggregateResults(bindings []binding, ret *ReturnClause) (*Result, error) {
	var groupItems []ReturnItem
	var countItem ReturnItem
	for _, item := range ret.Items {
		if item.Func == "COUNT" {
			countItem = item
		} else {
			groupItems = append(groupItems, item)
		}
	}

	type groupEntry struct {
		row   map[string]any
		count int
	}
	groups := make(map[string]*groupEntry)
	var order []string

	for _, b := range bindings {
		row := make(map[string]any)
		var keyParts []string
		for _, item := range groupItems {
			col := itemColumn(item)
			var val any
			if f, ok := b[item.Variable]; ok {
				val = functionProperty(f, item.Property)
			}
			row[col] = val
			keyParts = append(keyParts, fmt.Sprintf("%v", val))
		}
		key := strings.Join(keyParts, "\x00")
		if g, ok := groups[key]; ok {
			g.count++
		} else {
			groups[key] = &groupEntry{row: row, count: 1}
			order = append(order, key)
		}
	}

	cols := returnColumns(ret.Items)

	countCol := countItem.Alias
	if countCol == "" {
		countCol = "COUNT(" + countItem.Variable + ")"
	}

	var rows []map[string]any
	for _, key := range order {
		g := groups[key]
		row := g.row
		row[countCol] = g.count
		rows = append(rows, row)
	}

	if ret.OrderBy != "" {
		sortRows(rows, ret.OrderBy, ret.OrderDir)
	}

	limit := ret.Limit
	if limit <= 0 || limit > maxResultRows {
		limit = maxResultRows
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return &Result{Columns: cols, Rows: rows}, nil
}

// returnColumns computes the output column name for each RETURN item.
func returnColumns(items []ReturnItem) []string {
	var cols []string
	for _, item := range items {
		cols = append(cols, itemColumn(item))
	}
	return cols
}

func itemColumn(item ReturnItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	if item.Func == "COUNT" {
		return "COUNT(" + item.Variable + ")"
	}
	if item.Property != "" {
		return item.Variable + "." + item.Property
	}
	return item.Variable
}

// wholeFunction projects a function as a map for bare-variable returns.
func wholeFunction(f *store.Function) map[string]any {
	return map[string]any{
		"full_name":  f.FullName(),
		"name":       f.Name,
		"file_path":  f.FilePath,
		"lineno":     f.Lineno,
		"end_lineno": f.EndLineno,
	}
}

// sortRows sorts rows by the given column.
func sortRows(rows []map[string]any, col string, dir string) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i][col], rows[j][col]
		cmp := compareValues(a, b)
		if dir == "DESC" {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(a, b any) int {
	aNum, aOK := toFloat(a)
	bNum, bOK := toFloat(b)
	if aOK && bOK {
		if aNum < bNum {
			return -1
		}
		if aNum > bNum {
			return 1
		}
		return 0
	}
	aStr := fmt.Sprintf("%v", a)
	bStr := fmt.Sprintf("%v", b)
	if aStr < bStr {
		return -1
	}
	if aStr > bStr {
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// copyBinding makes a shallow copy of a binding.
func copyBinding(b binding) binding {
	c := make(binding, len(b)+1)
	for k, v := range b {
		c[k] = v
	}
	return c
}

// matchesProps checks a function against inline property filters.
func matchesProps(f *store.Function, props map[string]string) bool {
	for key, val := range props {
		if fmt.Sprintf("%v", functionProperty(f, key)) != val {
			return false
		}
	}
	return true
}
