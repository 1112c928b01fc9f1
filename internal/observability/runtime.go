package observability

import (
	"fmt"
	"log/slog"

	"go.uber.org/automaxprocs/maxprocs"
)

// AdjustMaxProcs aligns GOMAXPROCS with the container CPU quota. The returned
// func restores the previous value.
func AdjustMaxProcs(logger *slog.Logger) (func(), error) {
	printf := func(format string, args ...any) {
		logger.Info(fmt.Sprintf(format, args...), "component", "maxprocs")
	}
	return maxprocs.Set(maxprocs.Logger(printf))
}
