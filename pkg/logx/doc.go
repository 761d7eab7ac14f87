// Package logx configures gradebot's structured logging.
//
// It is a thin wrapper (logx.Logger) around zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional operator-chat sink (min-level + rate limiting)
package logx
