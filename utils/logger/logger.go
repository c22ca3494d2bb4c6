package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/types"
)

// stdout carries the record stream, logs always go to stderr
var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// Init configures level and outputs from viper; safe to call more than once
func Init() {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(viper.GetString(constants.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%-5s", i))
		},
	}

	writers := []io.Writer{console}
	if folder := viper.GetString(constants.ConfigFolder); folder != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(folder, "logs", constants.LogFileName),
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

// SetOutput replaces every output of the logger
func SetOutput(w io.Writer) {
	logger = zerolog.New(w).With().Timestamp().Logger()
}

func render(v ...interface{}) string {
	parts := make([]string, 0, len(v))
	for _, value := range v {
		switch value := value.(type) {
		case string:
			parts = append(parts, value)
		case error:
			parts = append(parts, value.Error())
		case types.Message, *types.Message, *types.SyncSummary:
			data, err := json.Marshal(value)
			if err != nil {
				parts = append(parts, fmt.Sprint(value))
				continue
			}
			parts = append(parts, string(data))
		default:
			parts = append(parts, fmt.Sprint(value))
		}
	}
	return strings.Join(parts, " ")
}

func Info(v ...interface{}) {
	logger.Info().Msg(render(v...))
}

func Infof(format string, v ...interface{}) {
	logger.Info().Msgf(format, v...)
}

func Debug(v ...interface{}) {
	logger.Debug().Msg(render(v...))
}

func Debugf(format string, v ...interface{}) {
	logger.Debug().Msgf(format, v...)
}

func Warn(v ...interface{}) {
	logger.Warn().Msg(render(v...))
}

func Warnf(format string, v ...interface{}) {
	logger.Warn().Msgf(format, v...)
}

func Error(v ...interface{}) {
	logger.Error().Msg(render(v...))
}

func Errorf(format string, v ...interface{}) {
	logger.Error().Msgf(format, v...)
}

func Fatal(v ...interface{}) {
	logger.Fatal().Msg(render(v...))
}

func Fatalf(format string, v ...interface{}) {
	logger.Fatal().Msgf(format, v...)
}

// LogState logs the bookmarks of a checkpoint
func LogState(state *types.State) {
	data, err := json.Marshal(state)
	if err != nil {
		Errorf("failed to marshal state: %s", err)
		return
	}
	logger.Debug().RawJSON("state", data).Msg("checkpoint")
}

// FileLogger writes content as JSON to <config folder>/<fileName><fileExtension>
func FileLogger(content any, fileName, fileExtension string) error {
	folder := viper.GetString(constants.ConfigFolder)
	if folder == "" {
		return fmt.Errorf("config folder is not set")
	}

	return FileLoggerWithPath(content, filepath.Join(folder, fileName+fileExtension))
}

func FileLoggerWithPath(content any, path string) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal content: %s", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %s", path, err)
	}

	return os.WriteFile(path, data, 0o600)
}
