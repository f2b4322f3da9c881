package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	customLog logger
	level     atomic.Int32
)

type logger struct {
	debug *log.Logger
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	dir   string
}

func init() {
	InitLogger()
}

func InitLogger() {
	customLog = logger{
		debug: log.New(os.Stdout, "[DEBUG] ", 0),
		info:  log.New(os.Stdout, "[INFOM] ", 0),
		warn:  log.New(os.Stdout, "[WARNG] ", 0),
		err:   log.New(os.Stderr, "[ERROR] ", 0),
		dir:   "",
	}
	level.Store(int32(LevelInfo))
}

// SetOutput sends every level to w. Used by tests to capture output.
func SetOutput(w io.Writer) {
	customLog.debug.SetOutput(w)
	customLog.info.SetOutput(w)
	customLog.warn.SetOutput(w)
	customLog.err.SetOutput(w)
}

// ParseLevel accepts debug, info, warn or error. An empty name is info.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}

	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

func SetLevel(name string) error {
	l, err := ParseLevel(name)
	if err != nil {
		return err
	}
	level.Store(int32(l))

	return nil
}

func ResetLogger(oracleHome string) {
	if oracleHome == "" {
		osHome, err := os.UserHomeDir()
		if err != nil {
			Fatalf("Failed to get user home directory: %v", err)
		}
		customLog.dir = filepath.Join(osHome, ".oracled", "logs")
	} else {
		customLog.dir = filepath.Join(oracleHome, "logs")
	}

	if err := os.MkdirAll(customLog.dir, 0755); err != nil {
		Fatalf("Failed to create log directory %s: %v", customLog.dir, err)
	}

	format := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	name := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
	path := filepath.Join(customLog.dir, name)
	file, err := os.Create(path)
	if err != nil {
		Fatalf("Failed to create log file: %v", err)
	}

	Infof("From now on, all logs will be written to %s", path)

	customLog.debug = log.New(file, "[DEBUG] ", format)
	customLog.info = log.New(file, "[INFOM] ", format)
	customLog.warn = log.New(file, "[WARNG] ", format)
	customLog.err = log.New(file, "[ERROR] ", format)
}

func enabled(l Level) bool {
	return Level(level.Load()) <= l
}

func Debug(v ...any) {
	if enabled(LevelDebug) {
		_ = customLog.debug.Output(2, fmt.Sprint(v...))
	}
}

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		_ = customLog.debug.Output(2, fmt.Sprintf(format, v...))
	}
}

func Info(v ...any) {
	if enabled(LevelInfo) {
		_ = customLog.info.Output(2, fmt.Sprint(v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		_ = customLog.info.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warn(v ...any) {
	if enabled(LevelWarn) {
		_ = customLog.warn.Output(2, fmt.Sprint(v...))
	}
}

func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		_ = customLog.warn.Output(2, fmt.Sprintf(format, v...))
	}
}

func Error(v ...any) {
	_ = customLog.err.Output(2, fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	_ = customLog.err.Output(2, fmt.Sprintf(format, v...))
}

func Fatal(v ...any) {
	_ = customLog.err.Output(2, fmt.Sprint(v...))
	os.Exit(1)
}

func Fatalf(format string, v ...any) {
	_ = customLog.err.Output(2, fmt.Sprintf(format, v...))
	os.Exit(1)
}
