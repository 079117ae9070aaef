package btswitch

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MixyLabs/btswitch/pkg/btswitch/util"
)

const (
	buildTypeRelease = "release"

	logDirectory = "logs"
	logFilename  = "btswitch-latest-run.log"
)

// NewLogger provides a logger instance for the whole program. Release builds log to a file,
// everything else logs to stderr in development mode
func NewLogger(buildType string, verbose bool) (*zap.SugaredLogger, error) {
	var loggerConfig zap.Config

	if buildType == buildTypeRelease {
		logDir := releaseLogDirectory()
		if err := util.EnsureDirExists(logDir); err != nil {
			return nil, fmt.Errorf("ensure log directory exists: %w", err)
		}

		loggerConfig = zap.NewProductionConfig()
		loggerConfig.OutputPaths = []string{filepath.Join(logDir, logFilename), "stderr"}
		loggerConfig.Encoding = "console"
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if verbose {
		loggerConfig.Level.SetLevel(zapcore.DebugLevel)
	} else {
		loggerConfig.Level.SetLevel(zapcore.InfoLevel)
	}

	loggerConfig.EncoderConfig.EncodeCaller = nil
	loggerConfig.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	loggerConfig.EncoderConfig.EncodeName = func(s string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%-27s", s))
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("create zap logger: %w", err)
	}

	return logger.Sugar(), nil
}

func releaseLogDirectory() string {
	if dir, err := util.StateDir(clientName); err == nil {
		return filepath.Join(dir, logDirectory)
	}

	return logDirectory
}
