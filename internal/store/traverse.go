package store

// TraverseResult holds BFS traversal results over the call graph.
type TraverseResult struct {
	Root    *Function
	Visited []*FunctionHop
	Edges   []EdgeInfo
}

// FunctionHop is a function with its BFS hop distance from the root.
type FunctionHop struct {
	Function *Function
	Hop      int
}

// EdgeInfo is a simplified call edge for output.
type EdgeInfo struct {
	FromName string
	ToName   string
}

type bfsQueue struct {
	functionID int64
	hop        int
}

// Direction of a call-graph traversal.
const (
	DirectionCallees = "callees"
	DirectionCallers = "callers"
)

// BFS performs breadth-first traversal of the call graph.
// direction: DirectionCallees follows caller->callee, DirectionCallers the reverse.
// The visited set makes traversal terminate on cyclic graphs, recursion included.
// maxDepth caps the BFS depth, maxResults caps total visited functions.
func (s *Store) BFS(startID int64, direction string, maxDepth, maxResults int) (*TraverseResult, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if maxResults <= 0 {
		maxResults = 200
	}

	result := &TraverseResult{}
	visited := make(map[int64]int)     // functionID -> hop
	cache := make(map[int64]*Function) // functionID -> resolved function
	visited[startID] = 0

	root, err := s.FindFunctionByID(startID)
	if err == nil && root != nil {
		cache[startID] = root
		result.Root = root
	}

	queue := []bfsQueue{{startID, 0}}

	for len(queue) > 0 && len(result.Visited) < maxResults {
		item := queue[0]
		queue = queue[1:]

		if item.hop >= maxDepth {
			continue
		}

		var edges []*CallEdge
		if direction == DirectionCallers {
			edges, err = s.edgesByCallee(item.functionID)
		} else {
			edges, err = s.EdgesByCaller(item.functionID)
		}
		if err != nil {
			return nil, err
		}

		for _, e := range edges {
			nextID := e.CalleeID
			if direction == DirectionCallers {
				nextID = e.CallerID
			}

			if _, seen := visited[nextID]; !seen {
				visited[nextID] = item.hop + 1

				next, lookupErr := s.FindFunctionByID(nextID)
				if lookupErr != nil || next == nil {
					continue
				}
				cache[nextID] = next

				result.Visited = append(result.Visited, &FunctionHop{Function: next, Hop: item.hop + 1})
				queue = append(queue, bfsQueue{nextID, item.hop + 1})

				if len(result.Visited) >= maxResults {
					break
				}
			}

			fromName := resolveFunctionName(cache, s, e.CallerID)
			toName := resolveFunctionName(cache, s, e.CalleeID)
			result.Edges = append(result.Edges, EdgeInfo{FromName: fromName, ToName: toName})
		}
	}

	return result, nil
}

func (s *Store) edgesByCallee(functionID int64) ([]*CallEdge, error) {
	rows, err := s.q.Query(`SELECT caller_id, segment_ordinal, callee_id
		FROM call_edges WHERE callee_id=? ORDER BY caller_id, segment_ordinal`, functionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCallEdges(rows)
}

// resolveFunctionName returns the full name for a function ID, cache first.
func resolveFunctionName(cache map[int64]*Function, s *Store, id int64) string {
	if f, ok := cache[id]; ok {
		return f.FullName()
	}
	f, err := s.FindFunctionByID(id)
	if err != nil || f == nil {
		return ""
	}
	cache[id] = f
	return f.FullName()
}
