package logger

import (
	"fmt"

	"go.uber.org/zap"
)

var (
	base        *zap.Logger
	serviceName = "trade_engine"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// Init builds the process-wide logger. Call once from main before any
// component starts.
func Init(debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	base = l
	return nil
}

func with() *zap.Logger {
	if base == nil {
		panic("logger is not initialized")
	}
	return base.With(zap.String("service", serviceName))
}

func Info(format string, args ...interface{}) {
	with().Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	with().Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	with().Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	with().Fatal(fmt.Sprintf(format, args...))
}

// Sync flushes buffered entries on shutdown.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
