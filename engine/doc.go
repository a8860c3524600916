// Package engine drives a pipeline over a catalog of point files.
//
// A Scheduler splits the catalog into chunks (see catalog.Plan) and runs
// every chunk on its own pipeline.Instance in a fixed WorkerPool:
//
//	Scheduler.Run
//	  ├── catalog.Plan        chunk cores, buffers, main and neighbour files
//	  └── WorkerPool.Submit   one task per chunk
//	        └── Instance.Execute(chunk.Request())
//
// # Failure Model
//
// A chunk that fails is reported as a *ChunkError with its region and the
// number of points read; the other chunks keep running. Canceling the
// context stops scheduling new chunks and interrupts the running ones at
// point granularity. Interrupted chunks are not errors: the Report marks
// them and keeps the outputs they produced.
package engine
