// Package logger builds *slog.Logger instances for the portal.
//
// New applies functional options (format, level, static attributes, context
// extractors) and wraps the chosen handler in LogHandlerDecorator, which
// appends attributes pulled from the record's context. WithEnvironment
// selects sensible defaults per deployment environment.
//
// Attribute helpers in attr.go keep key names consistent across packages:
//
//	log.LogAttrs(ctx, slog.LevelWarn, "notification rejected",
//	    logger.UserID(recipient),
//	    logger.NotificationType(string(t)),
//	    logger.Reason("duplicate"),
//	)
package logger
