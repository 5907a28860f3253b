// Package logging decorates executors, processors and query handlers with
// log output. Command and query paths log through logrus, event processing
// through log/slog.
package logging

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/terraskye/cqrs"
)

// WithCommandLogging wraps an Executor with logging functionality.
// It logs the command type and aggregate ID before execution, and logs
// errors if the command fails. Business rule violations are logged as
// warnings.
func WithCommandLogging(logger *logrus.Entry, next cqrs.Executor) cqrs.Executor {
	return cqrs.ExecutorFunc(func(ctx context.Context, aggregateID string, cmd cqrs.Command, metadata cqrs.Metadata) error {
		cmdType := cmd.CommandType()
		logger.Infof("Dispatch: %s (aggregateID: %s)", cmdType, aggregateID)

		err := next.Execute(ctx, aggregateID, cmd, metadata)
		if err == nil {
			return nil
		}

		l := logger.WithFields(logrus.Fields{
			"command":      cmdType,
			"aggregate_id": aggregateID,
			"kind":         cqrs.Classify(err).String(),
		})
		if cqrs.Classify(err) == cqrs.KindDomain {
			l.Warnf("Dispatch rejected: %v", err)
		} else {
			l.Errorf("Dispatch failed: %v", err)
		}
		return err
	})
}
