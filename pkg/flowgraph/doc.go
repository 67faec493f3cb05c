// Package flowgraph is the public entry point for defining and running
// flows without importing internal packages.
//
// A flow is a static graph of steps over a state type S. Start steps run
// when a run begins; listeners run once their trigger is satisfied; routers
// run like listeners and emit one of their declared labels. Each step
// receives a copy of the state and returns an Update that the scheduler
// applies on its own goroutine:
//
//	flow, err := flowgraph.NewBuilder[State]("poem_flow", "Poem Flow").
//		Start("count", countHandler).
//		Listen("write", flowgraph.After("count"), writeHandler).
//		Build()
//
// Run executes a flow on a Runtime, which keeps flow definitions and
// snapshots.
package flowgraph
