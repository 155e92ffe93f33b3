// Package core holds the domain model of the checklist ingestion engine.
//
// A file of delimited rows is ingested into output records, one record per
// data row, each carrying a scored [Answer] for every field of the target
// checklist. The packages under internal/ build on these types:
//
//   - dialect: detects the delimiter, quoting and encoding of a file.
//   - fields: normalizes [FieldDefinition] values and assigns common ids.
//   - scoring: turns a raw cell into an [Answer].
//   - chunk: plans and writes the chunk files a run is split into.
//   - progress: derives the resume plan from [FileUpload] and [Checkpoint].
//   - lifecycle: the [Status] state machine with atomic transitions.
//   - ingest: the engine and its row workers.
//   - store: PostgreSQL, Redis and in-memory storage.
//   - hooks: what happens once a file completes.
//
// core itself has no storage or transport dependencies.
//
// # Ordering
//
// Every data row gets a global order: OrderStartBase plus the row's index
// among the file's non-empty data rows. Orders are derived from file
// position only, so runs are reproducible regardless of which worker commits
// first.
//
// # Error Handling
//
// Failures are classified with the sentinels in errors.go and mapped to
// coded messages with [MapError]:
//
//   - META001-META002: field metadata errors
//   - FMT001-FMT003: file format errors
//   - DB001-DB010: destination store errors
//   - RUN001-RUN005: lifecycle and run control errors
//   - REQ001: incomplete registration or API requests
package core
