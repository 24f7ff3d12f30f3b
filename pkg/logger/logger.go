package logger

import (
	"fmt"
	"log"
	"log/slog"
	"os"
)

// New returns a *log.Logger for APIs that only accept the standard logger.
// Lines go to base at error level, tagged with component; a nil base
// falls back to a prefixed stdout logger.
func New(component string, base *slog.Logger) *log.Logger {
	if base == nil {
		prefix := fmt.Sprintf("[%s] ", component)
		return log.New(os.Stdout, prefix, log.LstdFlags|log.Lshortfile)
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), slog.LevelError)
}
