// Package logs provides subsystem-tagged loggers for the indexer, modeled
// directly on daglabs-btcd/logger/logger.go's backendLog.Logger("TAG")
// pattern, depending on btcsuite/btclog directly rather than forking a
// private copy.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	if initiated {
		os.Stdout.Write(p)
		LogRotator.Write(p)
	}
	return len(p), nil
}

var (
	backendLog = btclog.NewBackend(logWriter{})

	// LogRotator rotates the combined log file; nil until InitLogRotator
	// is called.
	LogRotator *rotator.Rotator

	schdLog = backendLog.Logger("SCHD")
	esntLog = backendLog.Logger("ESNT")
	ammdLog = backendLog.Logger("AMMD")
	mempLog = backendLog.Logger("MEMP")
	upstLog = backendLog.Logger("UPST")
	aofLog  = backendLog.Logger("AOF ")
	rpcsLog = backendLog.Logger("RPCS")
	mdbLog  = backendLog.Logger("MDB ")
	pzzaLog = backendLog.Logger("PZZA")

	initiated = false
)

// Tags enumerates every subsystem identifier this indexer logs
// under, mirroring daglabs-btcd's SubsystemTags struct-of-constants idiom.
var Tags = struct {
	SCHD, ESNT, AMMD, MEMP, UPST, AOF, RPCS, MDB, PZZA string
}{
	SCHD: "SCHD", ESNT: "ESNT", AMMD: "AMMD", MEMP: "MEMP",
	UPST: "UPST", AOF: "AOF ", RPCS: "RPCS", MDB: "MDB ", PZZA: "PZZA",
}

var subsystemLoggers = map[string]btclog.Logger{
	Tags.SCHD: schdLog,
	Tags.ESNT: esntLog,
	Tags.AMMD: ammdLog,
	Tags.MEMP: mempLog,
	Tags.UPST: upstLog,
	Tags.AOF:  aofLog,
	Tags.RPCS: rpcsLog,
	Tags.MDB:  mdbLog,
	Tags.PZZA: pzzaLog,
}

// Logger returns the logger for the given subsystem tag, or a disabled
// logger if the tag is unknown.
func Logger(tag string) btclog.Logger {
	if l, ok := subsystemLoggers[tag]; ok {
		return l
	}
	return btclog.Disabled
}

// InitLogRotator wires stdout plus a rotating file as the logging backend.
// Must be called before any subsystem logger is used for output to reach
// the log file; until then, writes silently no-op.
func InitLogRotator(logFile string) {
	initiated = true
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
			os.Exit(1)
		}
	}
	r, err := rotator.New(logFile, 10*1024*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	LogRotator = r
}

// SetLevel sets the logging level for a single subsystem; unknown
// subsystems are ignored.
func SetLevel(subsystemID string, level btclog.Level) {
	if l, ok := subsystemLoggers[subsystemID]; ok {
		l.SetLevel(level)
	}
}

// SetLevels sets the logging level for all subsystems at once.
func SetLevels(level btclog.Level) {
	for id := range subsystemLoggers {
		SetLevel(id, level)
	}
}

// SupportedSubsystems returns a sorted slice of known subsystem tags, for
// diagnostics and debug-level parsing.
func SupportedSubsystems() []string {
	ids := make([]string, 0, len(subsystemLoggers))
	for id := range subsystemLoggers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseAndSetDebugLevels parses a "subsys=level,subsys=level" string, or a
// single bare level applied to every subsystem, exactly as
// daglabs-btcd/logger.ParseAndSetDebugLevels did.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		level, ok := btclog.LevelFromString(debugLevel)
		if !ok {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLevels(level)
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(pair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", pair)
		}
		fields := strings.SplitN(pair, "=", 2)
		subsysID, levelStr := fields[0], fields[1]
		if _, ok := subsystemLoggers[subsysID]; !ok {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		level, ok := btclog.LevelFromString(levelStr)
		if !ok {
			return fmt.Errorf("the specified debug level [%s] is invalid", levelStr)
		}
		SetLevel(subsysID, level)
	}
	return nil
}
