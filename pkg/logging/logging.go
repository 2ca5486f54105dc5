// pkg/logging/logging.go - Timestamped deployment logging for AppDeploy
//
// One timestamped directory per deployment run, holding deploy.log in the
// traditional [timestamp] LEVEL message key=value format and events.jsonl
// with one structured entry per line for log shippers. Old run directories
// are swept on startup according to the retention policy.

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/windowsadmins/appdeploy/pkg/config"
	"github.com/windowsadmins/appdeploy/pkg/version"
	"golang.org/x/sys/windows"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var levelNames = [...]string{"ERROR", "WARN", "INFO", "DEBUG"}

// String returns the level name used in deploy.log and events.jsonl.
func (ll LogLevel) String() string {
	if ll < 0 || int(ll) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[ll]
}

// ParseLevel maps a configuration string to a LogLevel. Unknown values
// fall back to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LogEntry represents a structured log entry compatible with external
// monitoring tools.
type LogEntry struct {
	Time       int64                  `json:"time"`
	Timestamp  string                 `json:"timestamp"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Process    string                 `json:"process"`
	PID        int64                  `json:"pid"`
	Hostname   string                 `json:"hostname"`
	Version    string                 `json:"version"`
	SessionID  string                 `json:"session_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// RetentionPolicy defines log retention rules.
type RetentionPolicy struct {
	MaxRuns    int // Keep last N run directories
	MaxAgeDays int // Maximum age in days before deletion
}

// LoggerConfig holds configuration for the deployment logger.
type LoggerConfig struct {
	BaseDir       string          // Base logging directory
	SessionID     string          // Unique session identifier
	Level         LogLevel        // Minimum level written
	Retention     RetentionPolicy // Retention policy
	EnableConsole bool            // Echo entries to stdout
	EnableJSON    bool            // Write events.jsonl
}

// Logger encapsulates logging for one deployment run.
type Logger struct {
	mu       sync.RWMutex
	logger   *log.Logger
	logLevel LogLevel
	logFile  *os.File
	jsonFile *os.File
	config   LoggerConfig
	logDir   string // Current timestamped log directory
	hostname string
	version  string
}

// singleton instance and sync.Once for thread-safe initialization
var (
	instance *Logger
	once     sync.Once
)

// DefaultRetentionPolicy returns sensible defaults for log retention.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxRuns:    30,
		MaxAgeDays: 30,
	}
}

// Init initializes the singleton Logger based on the provided configuration.
// It must be called before any logging functions are used.
func Init(cfg *config.Configuration) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLogger(cfg)
	})
	return initErr
}

// InitWithConfig initializes the logger with explicit LoggerConfig.
func InitWithConfig(logCfg LoggerConfig) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLoggerWithConfig(logCfg)
	})
	return initErr
}

// generateSessionID creates a unique session identifier.
func generateSessionID() string {
	return fmt.Sprintf("deploy-%d-%s", time.Now().Unix(),
		time.Now().Format("2006-01-02-150405"))
}

// newLogger derives a LoggerConfig from the host configuration.
func newLogger(cfg *config.Configuration) (*Logger, error) {
	retention := DefaultRetentionPolicy()
	if cfg.LogRetentionDays > 0 {
		retention.MaxAgeDays = cfg.LogRetentionDays
	}

	return newLoggerWithConfig(LoggerConfig{
		BaseDir:       cfg.LogDirPath(),
		SessionID:     generateSessionID(),
		Level:         ParseLevel(cfg.LogLevel),
		Retention:     retention,
		EnableConsole: true,
		EnableJSON:    true,
	})
}

func newLoggerWithConfig(cfg LoggerConfig) (*Logger, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = generateSessionID()
	}

	// One directory per run, named for the moment the run started.
	logDir := filepath.Join(cfg.BaseDir, time.Now().Format("2006-01-02-150405"))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	l := &Logger{
		config:   cfg,
		logLevel: cfg.Level,
		logDir:   logDir,
		hostname: hostname,
		version:  version.Version().Version,
	}

	if err := l.openLogFiles(); err != nil {
		return nil, err
	}

	out := io.Writer(l.logFile)
	if cfg.EnableConsole {
		out = io.MultiWriter(os.Stdout, l.logFile)
	}
	l.logger = log.New(out, "", 0)

	// Sweep old run directories once per run rather than on a ticker;
	// deployments are short-lived processes.
	go l.sweepOldRuns()

	return l, nil
}

func (l *Logger) openLogFiles() error {
	var err error
	if l.logFile, err = openAppend(filepath.Join(l.logDir, "deploy.log")); err != nil {
		return fmt.Errorf("failed to open main log file: %w", err)
	}
	if l.config.EnableJSON {
		if l.jsonFile, err = openAppend(filepath.Join(l.logDir, "events.jsonl")); err != nil {
			return fmt.Errorf("failed to open JSON log file: %w", err)
		}
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// sweepOldRuns deletes run directories beyond the retention caps. The
// current run directory always survives.
func (l *Logger) sweepOldRuns() {
	entries, err := os.ReadDir(l.config.BaseDir)
	if err != nil {
		return
	}

	var runs []string
	for _, e := range entries {
		// Run directories are named YYYY-MM-DD-HHMMss.
		if e.IsDir() && len(e.Name()) == 17 && strings.Count(e.Name(), "-") == 3 {
			runs = append(runs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs))) // newest first

	expired := make(map[string]bool)
	ret := l.config.Retention
	if ret.MaxRuns > 0 && len(runs) > ret.MaxRuns {
		for _, name := range runs[ret.MaxRuns:] {
			expired[name] = true
		}
	}
	if ret.MaxAgeDays > 0 {
		maxAge := time.Duration(ret.MaxAgeDays) * 24 * time.Hour
		for _, name := range runs {
			full := filepath.Join(l.config.BaseDir, name)
			if info, err := os.Stat(full); err == nil && time.Since(info.ModTime()) > maxAge {
				expired[name] = true
			}
		}
	}

	current := filepath.Base(l.logDir)
	for name := range expired {
		if name == current {
			continue
		}
		os.RemoveAll(filepath.Join(l.config.BaseDir, name)) // best effort
	}
}

func (l *Logger) createLogEntry(level LogLevel, message string, properties map[string]interface{}) LogEntry {
	now := time.Now()

	return LogEntry{
		Time:       now.Unix(),
		Timestamp:  now.Format(time.RFC3339),
		Level:      level.String(),
		Message:    message,
		Process:    "appdeploy",
		PID:        int64(os.Getpid()),
		Hostname:   l.hostname,
		Version:    l.version,
		SessionID:  l.config.SessionID,
		Properties: properties,
	}
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	if instance == nil {
		return
	}
	instance.mu.Lock()
	defer instance.mu.Unlock()

	closeFile(&instance.logFile, "main")
	closeFile(&instance.jsonFile, "JSON")
}

func closeFile(f **os.File, name string) {
	if *f == nil {
		return
	}
	if err := (*f).Close(); err != nil {
		fmt.Printf("Failed to close %s log file: %v\n", name, err)
	}
	*f = nil
}

// logMessage is the core logging method that writes to all configured outputs.
func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logger == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: %s %s %v\n", level, message, keyValues)
		return
	}
	if level > l.logLevel {
		return
	}

	entry := l.createLogEntry(level, message, propsFromPairs(keyValues))

	l.writeMainLog(entry, keyValues)
	if l.config.EnableJSON && l.jsonFile != nil {
		l.writeJSONLog(entry)
	}
	l.syncFiles()
}

// propsFromPairs folds variadic key/value pairs into a property map. A
// trailing key without a value is dropped.
func propsFromPairs(keyValues []interface{}) map[string]interface{} {
	props := make(map[string]interface{}, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		props[fmt.Sprintf("%v", keyValues[i])] = keyValues[i+1]
	}
	return props
}

// writeMainLog writes to the main deploy.log file in traditional format.
func (l *Logger) writeMainLog(entry LogEntry, keyValues []interface{}) {
	ts := time.Unix(entry.Time, 0).Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] %-5s %s", ts, entry.Level, entry.Message)

	// Up to four pairs stay inline; beyond that each pair wraps onto its
	// own indented line.
	pairFormat := " %s=%v"
	if len(keyValues)/2 > 4 {
		pairFormat = "\n        %s: %v"
	}
	for i := 0; i+1 < len(keyValues); i += 2 {
		line += fmt.Sprintf(pairFormat, fmt.Sprintf("%v", keyValues[i]), keyValues[i+1])
	}

	if entry.Level == "ERROR" {
		line = "\n----------------------------------------\n" + line
	}

	l.logger.Println(line)
}

// writeJSONLog writes one structured JSON entry per line.
func (l *Logger) writeJSONLog(entry LogEntry) {
	if data, err := json.Marshal(entry); err == nil {
		l.jsonFile.Write(append(data, '\n'))
	}
}

// syncFiles forces sync on all open log files.
func (l *Logger) syncFiles() {
	if l.logFile != nil {
		l.logFile.Sync()
	}
	if l.jsonFile != nil {
		l.jsonFile.Sync()
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGreen  = "\033[32m"
)

// enableColors turns on ANSI escape processing for the Windows console.
func enableColors() {
	h, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
	if err != nil {
		return
	}
	var mode uint32
	if err := windows.GetConsoleMode(h, &mode); err == nil {
		_ = windows.SetConsoleMode(h, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING)
	}
}

// Info logs at INFO level to the singleton run logger.
func Info(message string, keyValues ...interface{}) { emit(LevelInfo, message, keyValues) }

// Debug logs at DEBUG level.
func Debug(message string, keyValues ...interface{}) { emit(LevelDebug, message, keyValues) }

// Warn logs at WARN level.
func Warn(message string, keyValues ...interface{}) { emit(LevelWarn, message, keyValues) }

// Error logs at ERROR level.
func Error(message string, keyValues ...interface{}) { emit(LevelError, message, keyValues) }

func emit(level LogLevel, message string, keyValues []interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: %s %s %v\n", level, message, keyValues)
		return
	}
	instance.logMessage(level, message, keyValues...)
}

// New creates a console-only Logger for output before the file logger
// exists and for short-lived CLI tools.
func New(verbose bool) *Logger {
	enableColors()

	out := os.Stderr
	if verbose {
		out = os.Stdout
	}
	return &Logger{
		logger:   log.New(out, "", 0),
		logLevel: LevelInfo,
	}
}

// SetOutput changes the output destination.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.SetOutput(w)
}

// stamp writes one timestamped console line, wrapped in a color code when
// one is given.
func (l *Logger) stamp(color, format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msg := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, v...))
	if color != "" {
		msg = color + msg + colorReset
	}
	l.logger.Print(msg)
}

// Printf prints a plain timestamped message.
func (l *Logger) Printf(format string, v ...interface{}) { l.stamp("", format, v...) }

// Success prints a success message in green.
func (l *Logger) Success(format string, v ...interface{}) { l.stamp(colorGreen, format, v...) }

// Error prints an error message in red.
func (l *Logger) Error(format string, v ...interface{}) { l.stamp(colorRed, format, v...) }

// Warning prints a warning message in yellow.
func (l *Logger) Warning(format string, v ...interface{}) { l.stamp(colorYellow, format, v...) }

// Debug prints a debug message in blue.
func (l *Logger) Debug(format string, v ...interface{}) { l.stamp(colorBlue, format, v...) }

// GetCurrentLogDir returns the current timestamped log directory.
func GetCurrentLogDir() string {
	if instance == nil {
		return ""
	}
	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return instance.logDir
}

// GetSessionID returns the current session ID.
func GetSessionID() string {
	if instance == nil {
		return ""
	}
	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return instance.config.SessionID
}
