package cqrs

// InstrumentationVersion is reported by the otel decorators as the version
// of their tracer and meter.
const InstrumentationVersion = "0.3.0"
