// Package enginetesting provides standardised tests and benchmarks for
// implementations of the engine.IEngine interface.
//
// The package contains:
//   - engine_testing: a conformance suite covering pools, containers, epochs, object I/O,
//     punches, layouts and global handles
//   - engine_benchmarks: throughput benchmarks for the object I/O path
//
// Example usage:
//
//	factory := func() engine.IEngine {
//		return lengine.NewLocalEngine(nil)
//	}
//
//	enginetesting.RunEngineTests(t, "LocalEngine", factory)
//	enginetesting.RunEngineBenchmarks(b, "LocalEngine", factory)
package enginetesting
