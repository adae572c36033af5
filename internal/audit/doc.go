// Package audit delivers security events off the request path.
//
// # Components
//
//   - [Sink]: event consumer. Bundled sinks write to a channel, a JSON
//     line stream, a slog.Logger or a Kafka topic; [MultiSink] fans out.
//   - [Dispatcher]: buffered relay that either drops or blocks when full.
//   - [Event]: one record per login, refresh, reuse detection or logout.
//
// The Engine decides which events exist. This package only buffers and
// delivers them, and must not import the root package.
package audit
