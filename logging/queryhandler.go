package logging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/cqrs"
)

// WithQueryLogging logs every query handled by next together with how long
// it took. Failures are logged at error level and returned unchanged.
func WithQueryLogging[T cqrs.Query, R any](logger *logrus.Entry, next cqrs.QueryHandler[T, R]) cqrs.QueryHandler[T, R] {
	return cqrs.NewQueryHandlerFunc(func(ctx context.Context, qry T) (R, error) {
		queryType := qry.QueryType()
		start := time.Now()

		result, err := next.HandleQuery(ctx, qry)

		entry := logger.WithFields(logrus.Fields{
			"query":    queryType,
			"duration": time.Since(start),
		})
		if err != nil {
			entry.Errorf("Query failed: %s: %v", queryType, err)
			return result, err
		}
		entry.Infof("Query: %s", queryType)
		return result, nil
	})
}
