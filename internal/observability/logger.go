package observability

import (
	"github.com/danmuck/dmftctl/internal/parallel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RankLogger tags the global logger with the rank of c. Reports meant to
// appear once per run go through Report instead.
func RankLogger(c parallel.Comm) zerolog.Logger {
	return log.Logger.With().
		Int("rank", c.Rank()).
		Bool("coordinator", c.IsCoordinator()).
		Logger()
}

// Report returns l's info event on the coordinator and a disabled event on
// every other rank.
func Report(c parallel.Comm, l *zerolog.Logger) *zerolog.Event {
	if !c.IsCoordinator() {
		return nil
	}
	return l.Info()
}
