// Package audit provides the asynchronous audit pipeline behind authgate's
// register, login, refresh and logout operations.
//
// A [Dispatcher] owns a bounded buffer and one worker goroutine that forwards
// events to a [Sink]. Sinks shipped here write to a channel, to an io.Writer as
// JSON lines, or to a *slog.Logger.
//
// # What this package must NOT do
//
//   - Block request paths when configured with DropIfFull.
//   - Carry plaintext passwords or token strings in events.
package audit
