// Package internal holds helpers shared across backend implementations that
// aren't part of the public API.
package internal

import "os"

// debugEnabled caches whether NOTIFY_DEBUG was set at process start, mirroring
// the teacher's FSNOTIFY_DEBUG gate but under this module's own name.
var debugEnabled = os.Getenv("NOTIFY_DEBUG") != ""

// DebugEnabled reports whether raw backend event tracing was requested via
// the NOTIFY_DEBUG environment variable. Backend files consult this before
// paying for any mask-decoding work.
func DebugEnabled() bool { return debugEnabled }
