// Package traverse walks a module with a visitor and applies the edits the
// visitor requests.
//
// A visitor implements any subset of the hook interfaces in this package.
// Section hooks see a snapshot of their section and may append entries.
// The instruction hook sees every leaf instruction of every function body
// and may replace it, insert instructions around it, or stop the walk of
// the current body:
//
//	type counter struct{ n atomic.Int64 }
//
//	func (c *counter) VisitInstr(ctx *traverse.InstrContext) error {
//	    c.n.Add(1)
//	    return nil
//	}
//
//	err := traverse.Traverse(ctx, m, &counter{})
//
// Function bodies are walked in parallel, one task per body. Insertions
// never shift the visit order: the walk iterates a frozen copy of each
// body, so inserted instructions are not themselves visited.
package traverse
