package bpp

// stepColor is the planner's DFS marking.
type stepColor int

const (
	white stepColor = iota // unvisited
	grey                   // on the current DFS path
	black                  // done
)

// plan resolves the requested step names and flattens the transitive
// closure of the requested nodes into execution order. The returned
// slice is the reversed DFS post-order: the executor pops from the
// back, so dependencies come out first.
func (b *Build) plan(requested []string) ([]*Step, error) {
	var roots []*Step
	for _, name := range requested {
		found := false
		for _, s := range b.steps {
			if s.opts.Name == name {
				roots = append(roots, s)
				found = true
			}
		}
		if !found {
			return nil, &UnknownStepError{Name: name}
		}
	}

	color := make(map[*Step]stepColor, len(b.steps))
	var greyStack []*Step
	var postOrder []*Step

	var visit func(*Step) error
	visit = func(cur *Step) error {
		switch color[cur] {
		case black:
			return nil
		case grey:
			return cycleError(cur, greyStack)
		}
		color[cur] = grey
		greyStack = append(greyStack, cur)

		// Plain dependencies first, then input edges; insertion order
		// within each list.
		for _, dep := range cur.deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		for _, in := range cur.inputs {
			if in.Step == nil {
				continue
			}
			if err := visit(in.Step); err != nil {
				return err
			}
		}

		postOrder = append(postOrder, cur)
		color[cur] = black
		greyStack = greyStack[:len(greyStack)-1]
		return nil
	}

	for _, root := range roots {
		if err := visit(root); err != nil {
			return nil, err
		}
	}

	for i, j := 0, len(postOrder)-1; i < j; i, j = i+1, j-1 {
		postOrder[i], postOrder[j] = postOrder[j], postOrder[i]
	}
	return postOrder, nil
}

// cycleError renders the grey stack from the reoccurring step back to
// its first visit.
func cycleError(cur *Step, greyStack []*Step) error {
	stack := []string{cur.opts.Name}
	for i := len(greyStack) - 1; i >= 0; i-- {
		stack = append(stack, greyStack[i].opts.Name)
		if greyStack[i] == cur {
			break
		}
	}
	return &CycleError{Stack: stack}
}
