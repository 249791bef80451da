// Package director is the decision core of a service-management daemon that
// runs as init (or as a child subreaper) and starts and stops a catalog of
// providers in dependency order.
//
// Providers are described by flat key/value configuration. Resolve turns the
// configuration into a Graph with a start and stop order per run level:
//
//	runlevels, _ := director.NewRunlevelTable(settings.Data(director.SettingsName))
//	graph, diags := director.Resolve(providers, runlevels)
//	for _, a := range graph.Actions(2) {
//	    fmt.Println(a)
//	}
//
// # Orchestration
//
// An Orchestrator owns the current run level and walks the action queue of a
// transition one action at a time. Starting a provider spawns its process and
// waits for its services to be published; stopping it sends the exit signal
// and waits according to its ExitWaitType. Every callback runs on a single
// Loop goroutine, so orchestrator, job and waiter state is never shared:
//
//	loop := director.NewLoop(nil)
//	loop.Start(sctx)
//	orch, err := director.NewOrchestrator(loop, settings, providers,
//	    director.WithLogger(logger),
//	)
//	orch.Start()
//
// # Process supervision
//
// Each running provider has a Job holding its process tree as a flat
// child to parent map. Children whose parent dies are re-parented to the
// job's root, and the job reports its exit once the tree is empty.
//
// # Live reload
//
// ReloadBinary writes a Checkpoint holding the run level and every job's
// process tree, then re-executes the binary, which restores it before the
// first resolve. Reaching the bootstrap run level triggers this once, after
// which the daemon enters the configured initial run level.
//
// Configuration problems and failed actions are reported as Diagnostic
// records rather than errors.
package director
