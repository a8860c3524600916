// Package cloudpipe runs pipelines of spatial stages over point-cloud
// catalogs too large to fit in memory.
//
// A pipeline is an ordered list of stages starting with a reader. It is
// validated once by New; the resulting Processor splits the catalog into
// chunks (tiles, explicit query regions or one chunk per file), reads each
// chunk with a buffer margin large enough for edge-sensitive stages, and
// runs an independent copy of the pipeline on every chunk in parallel.
//
// # Quick Start
//
//	cfg, _ := cloudpipe.LoadConfig("job.yaml")
//	store := blobstore.NewLocalStore("./data")
//	p, err := cloudpipe.New(cfg.Pipeline, store, store, cfg.Options()...)
//	if err != nil {
//	    // errors.Is(err, cloudpipe.ErrConfig)
//	}
//	report, err := p.Run(ctx, cfg.Inputs)
//
// A job file:
//
//	inputs: [tiles/]
//	threads: 4
//	pipeline:
//	  stages:
//	    - kind: reader
//	      filter: -drop_class 7
//	    - kind: triangulate
//	      id: dtm
//	      filter: -keep_class 2
//	    - kind: rasterize
//	      connect: dtm
//	      res: 1
//	      output: dtm/*.asc
//
// # Execution Modes
//
// A pipeline whose stages only need file headers runs without reading
// points. If every stage is streamable, points flow one at a time through
// the stages. Otherwise each chunk is loaded into a pointcloud.Buffer with
// an incremental spatial index that stages query.
//
// # Errors
//
// Errors wrap ErrConfig, ErrAllocation or ErrFormat so callers can use
// errors.Is; the typed errors (*pipeline.ConfigError,
// *pointcloud.AllocationError, *reader.FormatError, *engine.ChunkError)
// remain reachable with errors.As. A failing chunk does not stop the other
// chunks. Cancellation is not an error: interrupted work is reported in
// the engine.Report.
//
// # Querying
//
// Processor.Load reads a region into a Cloud that serves range, nearest
// neighbour and id queries to concurrent callers.
package cloudpipe
