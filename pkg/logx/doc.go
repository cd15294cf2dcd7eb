// Package logx wraps zerolog behind a small structured-logging API.
//
// The Service owns the sinks (console and/or append-only file) and can swap
// them at runtime via Apply(), so config hot reload changes log level and
// outputs without restarting. Loggers handed out by the Service stay live
// across Apply() calls.
//
// The file sink is significant for packmail: every campaign run appends to
// it, and the admin report mails it as an attachment.
package logx
