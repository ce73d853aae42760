package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options holds logging configuration with file rotation
type Options struct {
	Level         string `long:"level" env:"LEVEL" yaml:"level" description:"Log level (trace, debug, info, warn, error)" default:"info"`
	Format        string `long:"format" env:"FORMAT" yaml:"format" description:"Log format (text, json)" default:"text"`
	Output        string `long:"output" env:"OUTPUT" yaml:"output" description:"Log output (stdout, stderr, file path)" default:"stderr"`
	DisableColors bool   `long:"disable-colors" env:"DISABLE_COLORS" yaml:"disable_colors" description:"Disable colored output"`

	// File rotation settings
	MaxSize    int  `long:"max-size-mb" env:"MAX_SIZE_MB" yaml:"max_size_mb" description:"Maximum log file size in MB" default:"100"`
	MaxBackups int  `long:"max-backups" env:"MAX_BACKUPS" yaml:"max_backups" description:"Maximum number of backup files" default:"5"`
	MaxAge     int  `long:"max-age-days" env:"MAX_AGE_DAYS" yaml:"max_age_days" description:"Maximum age of log files in days" default:"30"`
	NoCompress bool `long:"no-compress" env:"NO_COMPRESS" yaml:"no_compress" description:"Do not gzip rotated log files"`
}

// Validate checks level and format before anything is opened.
func (o *Options) Validate() error {
	if _, err := logrus.ParseLevel(o.Level); err != nil {
		return fmt.Errorf("invalid log level %s: %w", o.Level, err)
	}
	switch o.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", o.Format)
	}
	return nil
}

// Setup configures logger according to opts. The returned func closes the
// rotating file, if one was opened.
func Setup(logger *logrus.Logger, opts Options) (func() error, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	level, _ := logrus.ParseLevel(opts.Level)
	logger.SetLevel(level)

	switch opts.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:   time.RFC3339,
			DisableHTMLEscape: true,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			DisableColors:   opts.DisableColors,
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	var output io.Writer
	closer := func() error { return nil }

	switch opts.Output {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		if err := os.MkdirAll(filepath.Dir(opts.Output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		rotator := &lumberjack.Logger{
			Filename:   opts.Output,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   !opts.NoCompress,
		}
		output = rotator
		closer = rotator.Close
	}

	logger.SetOutput(output)
	return closer, nil
}
