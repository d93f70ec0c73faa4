package log

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// EchoLogger returns request logging middleware that writes access logs to zap.
func EchoLogger(l *zap.Logger, name string) echo.MiddlewareFunc {
	if l == nil {
		panic("log.EchoLogger received a nil *zap.Logger")
	}

	logger := l.WithOptions(zap.AddCallerSkip(1)).Named(name)

	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:       true,
		LogURI:          true,
		LogMethod:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogUserAgent:    true,
		LogError:        true,
		LogResponseSize: true,
		HandleError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("type", "http_request"),
				zap.String("http_method", v.Method),
				zap.String("http_path", v.URI),
				zap.String("remote_addr", v.RemoteIP),
				zap.Int("http_status_code", v.Status),
				zap.Int64("response_bytes", v.ResponseSize),
				zap.Duration("latency", v.Latency.Round(time.Microsecond)),
				zap.String("user_agent", v.UserAgent),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}

			msg := fmt.Sprintf("HTTP request completed: %s", v.URI)

			switch {
			case v.Status >= 500:
				logger.Error(msg, fields...)
			case v.Status >= 400:
				logger.Warn(msg, fields...)
			default:
				if isHealthCheck(v.Method, c.Path()) {
					logger.Debug(msg, fields...)
				} else {
					logger.Info(msg, fields...)
				}
			}
			return nil
		},
	})
}

func isHealthCheck(method string, path string) bool {
	return method == http.MethodGet && (path == "/health" || path == "/metrics")
}
