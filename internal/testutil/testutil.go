// Package testutil provides helpers shared by the gateway's unit tests:
// running event loops, requests bound to them, and seeding the memory
// engine.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//		req := testutil.NewLoopRequest(t)
//		engine := testutil.NewEngine(t, memkv.Options{})
//		testutil.SeedJSON(t, engine, "buckets-index", "photos", bucket)
//
//		req.Do(t, func() { ... })
//	}
package testutil
