package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"farm-log-indexer-go/internal/farm"
)

// Logger represents the application logger
type Logger struct {
	*logrus.Logger
	config  LogConfig
	logFile *os.File
}

// LogConfig contains logger configuration
type LogConfig struct {
	Level       string
	Format      string // "json", "text" or anything else for the custom console format
	LogToFile   bool
	LogFilePath string
}

// NewLogger creates a new logger instance
func NewLogger(config LogConfig) (*Logger, error) {
	return newLogger(config, os.Stdout)
}

func newLogger(config LogConfig, stdout io.Writer) (*Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	log.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			DisableQuote:    true,
		})
	default:
		log.SetFormatter(&CustomFormatter{})
	}

	l := &Logger{Logger: log, config: config}
	log.SetOutput(stdout)

	// Stdout plus file
	if config.LogToFile && config.LogFilePath != "" {
		logDir := filepath.Dir(config.LogFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
		f, err := os.OpenFile(config.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFilePath, err)
		}
		l.logFile = f
		log.SetOutput(io.MultiWriter(stdout, f))
	}

	return l, nil
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	l.Logger.SetOutput(os.Stdout)
	return err
}

// CustomFormatter provides a clean, timestamped format for console output
type CustomFormatter struct{}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
	level := strings.ToUpper(entry.Level.String())

	var levelColor string
	switch entry.Level {
	case logrus.DebugLevel, logrus.TraceLevel:
		levelColor = "\033[36m" // Cyan
	case logrus.InfoLevel:
		levelColor = "\033[32m" // Green
	case logrus.WarnLevel:
		levelColor = "\033[33m" // Yellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = "\033[31m" // Red
	default:
		levelColor = "\033[0m"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s%s\033[0m] %s", timestamp, levelColor, level, entry.Message)

	if len(entry.Data) > 0 {
		b.WriteString(" |")
		for key, value := range entry.Data {
			fmt.Fprintf(&b, " %s=%v", key, value)
		}
	}

	b.WriteString("\n")
	return []byte(b.String()), nil
}

// Farm-specific logging methods

// LogFarmEvent logs an extracted farm event with its roles and period
func (l *Logger) LogFarmEvent(slot uint64, event farm.Event) {
	fields := logrus.Fields{
		"event":     "farm_" + event.Kind().String(),
		"slot":      slot,
		"signature": event.TxSignature(),
	}

	switch e := event.(type) {
	case *farm.InitializeEvent:
		fields["farm_id"] = e.FarmID
		fields["user"] = e.User
		fields["lp_mint"] = e.LpMint
		fields["reward_mints"] = e.RewardMints
		fields["start_time"] = e.StartTime
		fields["end_time"] = e.EndTime
	case *farm.RestartOrAddEvent:
		fields["farm_id"] = e.FarmID
		fields["user"] = e.User
		fields["start_time"] = e.StartTime
		fields["end_time"] = e.EndTime
	case *farm.NewRewardEvent:
		fields["farm_id"] = e.FarmID
		fields["user"] = e.User
		fields["start_time"] = e.StartTime
		fields["end_time"] = e.EndTime
	}

	l.WithFields(fields).Info("🌾 Farm event extracted")
}

// LogBatch logs the outcome of one processed batch
func (l *Logger) LogBatch(slot uint64, transactions, events int, duration time.Duration) {
	l.WithFields(logrus.Fields{
		"event":        "batch_processed",
		"slot":         slot,
		"transactions": transactions,
		"events":       events,
		"duration_ms":  duration.Milliseconds(),
	}).Debug("📦 Batch processed")
}

// LogError logs general errors with context
func (l *Logger) LogError(component, operation string, err error, fields logrus.Fields) {
	logFields := logrus.Fields{
		"event":     "error",
		"component": component,
		"operation": operation,
	}

	for k, v := range fields {
		logFields[k] = v
	}

	l.WithFields(logFields).WithError(err).Error("💥 Component error")
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, network, rpcUrl, programID string) {
	l.WithFields(logrus.Fields{
		"event":      "startup",
		"version":    version,
		"network":    network,
		"rpc_url":    rpcUrl,
		"program_id": programID,
	}).Info("🚀 Indexer starting up")
}

// LogShutdown logs application shutdown information
func (l *Logger) LogShutdown(reason string) {
	l.WithFields(logrus.Fields{
		"event":  "shutdown",
		"reason": reason,
	}).Info("🛑 Indexer shutting down")
}

// LogConnection logs connection status
func (l *Logger) LogConnection(service, status string, details interface{}) {
	l.WithFields(logrus.Fields{
		"event":   "connection",
		"service": service,
		"status":  status,
		"details": details,
	}).Info("🔗 Connection status")
}

// LogThroughput logs throughput metrics
func (l *Logger) LogThroughput(operation string, count int, duration time.Duration) {
	rate := 0.0
	if duration > 0 {
		rate = float64(count) / duration.Seconds()
	}
	l.WithFields(logrus.Fields{
		"event":     "throughput",
		"operation": operation,
		"count":     count,
		"duration":  duration.Seconds(),
		"rate":      rate,
		"unit":      "ops/sec",
	}).Info("📈 Operation throughput")
}

// Context-aware logging methods

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

// WithTransaction returns a logger with transaction context
func (l *Logger) WithTransaction(signature string) *logrus.Entry {
	return l.WithField("transaction", signature)
}

// WithSlot returns a logger with slot context
func (l *Logger) WithSlot(slot uint64) *logrus.Entry {
	return l.WithField("slot", slot)
}
