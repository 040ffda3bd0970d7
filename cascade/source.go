package cascade

import "context"

// FetchResult is the outcome of one stage fetch. Generation must echo the
// value the fetch was issued with.
type FetchResult struct {
	Generation uint64
	Stage      Stage
	Records    []Record
	Err        error
}

// DataSource loads the options of a stage given the selections above it.
// Implementations return data only and never touch the pipeline. Retries,
// if any, happen inside Fetch.
type DataSource interface {
	Fetch(ctx context.Context, stage Stage, lineage Lineage, generation uint64) FetchResult
}

// DataSourceFunc adapts a function to DataSource.
type DataSourceFunc func(ctx context.Context, stage Stage, lineage Lineage, generation uint64) FetchResult

func (f DataSourceFunc) Fetch(ctx context.Context, stage Stage, lineage Lineage, generation uint64) FetchResult {
	return f(ctx, stage, lineage, generation)
}

// Ok builds a successful FetchResult.
func Ok(stage Stage, generation uint64, records []Record) FetchResult {
	return FetchResult{Generation: generation, Stage: stage, Records: records}
}

// Fail builds a failed FetchResult.
func Fail(stage Stage, generation uint64, err error) FetchResult {
	return FetchResult{Generation: generation, Stage: stage, Err: err}
}
