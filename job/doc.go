// Package job defines the job entity, its status lifecycle, and the
// persistence contract for job metadata.
//
// A job is stored as one JSON object of string fields under "job:<id>".
// The status field moves through:
//
//	pending → running → completed
//	pending → running → failed
//	pending|running → cancelled
//
// All other fields are free-form submission config. [FromMetadata] builds a
// typed [Job] view over the raw map.
package job
