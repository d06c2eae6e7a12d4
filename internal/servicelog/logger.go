// Package servicelog wraps zap and lumberjack behind a narrow logging
// interface, with entries mirrored to the OS service logger when running
// as a managed service. File names and rotation limits come from the
// [logging] section of the TOML config.
package servicelog

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls rotation and file naming.
type Options struct {
	BaseFolder    string
	FileName      string
	DebugFileName string
	MaxSizeMB     int
	MaxFiles      int
}

type lumberjackSink struct {
	*lumberjack.Logger
}

func (lumberjackSink) Sync() error {
	return nil
}

type Attrib func(sb *strings.Builder)

func printer(name string, val interface{}) Attrib {
	return func(sb *strings.Builder) {
		sb.WriteString(", ")
		sb.WriteString(name)
		sb.WriteString("=")
		fmt.Fprintf(sb, "%v", val)
	}
}

func String(name, value string) Attrib {
	return printer(name, value)
}

func Error(err error) Attrib {
	return printer("error", err)
}

func Bool(name string, value bool) Attrib {
	return printer(name, value)
}

func Any(name string, value interface{}) Attrib {
	return printer(name, value)
}

func Int(name string, value int) Attrib {
	return printer(name, value)
}

func Time(name string, value time.Time) Attrib {
	return printer(name, value)
}

func Duration(name string, value time.Duration) Attrib {
	return printer(name, value)
}

type Logger interface {
	With(attrs ...Attrib) Logger
	Info(msg string, attrs ...Attrib)
	Error(msg string, attrs ...Attrib)
	Warn(msg string, attrs ...Attrib)
	Debug(msg string, attrs ...Attrib)
	Fatal(msg string, attrs ...Attrib)
}

type logger struct {
	zlog  *zap.Logger
	dbg   *zap.Logger
	svc   service.Logger
	lvl   zapcore.Level
	debug bool
	attrs []Attrib
}

// sinkCounter disambiguates sink schemes: zap.RegisterSink rejects a
// scheme registered twice, and New may run more than once per process.
var sinkCounter int

// registerSink registers a lumberjack-backed zap sink rotating at path
// and returns the OutputPaths entry selecting it.
func registerSink(path string, maxSizeMB, maxFiles int) string {
	sinkCounter++
	scheme := fmt.Sprintf("lumberjack%d", sinkCounter)
	zap.RegisterSink(scheme, func(*url.URL) (zap.Sink, error) {
		return lumberjackSink{
			Logger: &lumberjack.Logger{
				Filename:   path,
				MaxSize:    maxSizeMB,
				MaxBackups: maxFiles,
			},
		}, nil
	})
	return scheme + "://"
}

// New builds a Logger rotating into opts.FileName under opts.BaseFolder,
// with a second rotating sink for opts.DebugFileName when debug output is
// enabled. level is a name like DEBUG/INFO/WARN/ERROR (stdout_debug_level
// in the [logging] section); an unrecognized name falls back to INFO.
// Entries are mirrored to root when running under a service manager.
func New(root service.Logger, opts Options, level string) Logger {
	folder := opts.BaseFolder
	if folder == "" {
		folder = "."
	}
	name := opts.FileName
	if name == "" {
		name = "balrog.log"
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	debug := lvl <= zapcore.DebugLevel

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.OutputPaths = []string{registerSink(filepath.Join(folder, name), opts.MaxSizeMB, opts.MaxFiles)}
	zlog, err := config.Build()
	if err != nil {
		panic(err)
	}

	var dbg *zap.Logger
	if debug && opts.DebugFileName != "" {
		dcfg := zap.NewDevelopmentConfig()
		dcfg.OutputPaths = []string{registerSink(filepath.Join(folder, opts.DebugFileName), opts.MaxSizeMB, opts.MaxFiles)}
		if built, err := dcfg.Build(); err == nil {
			dbg = built
		}
	}

	return &logger{zlog: zlog, dbg: dbg, svc: root, lvl: lvl, debug: debug}
}

// Nop returns a Logger that discards everything; used by tests.
func Nop() Logger {
	return &logger{zlog: zap.NewNop()}
}

func (l *logger) String(msg string, attrs ...Attrib) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for _, a := range l.attrs {
		a(&sb)
	}
	for _, a := range attrs {
		a(&sb)
	}
	return sb.String()
}

func (l *logger) Info(msg string, attrs ...Attrib) {
	message := l.String(msg, attrs...)
	l.zlog.Info(message)
	if l.svc != nil && l.lvl <= zapcore.InfoLevel {
		l.svc.Info(message)
	}
}

func (l *logger) Warn(msg string, attrs ...Attrib) {
	message := l.String(msg, attrs...)
	l.zlog.Warn(message)
	if l.svc != nil && l.lvl <= zapcore.WarnLevel {
		l.svc.Warning(message)
	}
}

func (l *logger) Error(msg string, attrs ...Attrib) {
	message := l.String(msg, attrs...)
	l.zlog.Error(message)
	if l.svc != nil {
		l.svc.Error(message)
	}
}

func (l *logger) Fatal(msg string, attrs ...Attrib) {
	message := l.String(msg, attrs...)
	l.zlog.Error(message)
	if l.svc != nil {
		l.svc.Error(message)
	}
	panic(msg)
}

func (l *logger) Debug(msg string, attrs ...Attrib) {
	if !l.debug {
		return
	}
	message := l.String(msg, attrs...)
	if l.dbg != nil {
		l.dbg.Debug(message)
		return
	}
	l.zlog.Debug(message)
}

func (l *logger) With(attrs ...Attrib) Logger {
	combined := make([]Attrib, 0, len(l.attrs)+len(attrs))
	combined = append(combined, l.attrs...)
	combined = append(combined, attrs...)
	return &logger{zlog: l.zlog, dbg: l.dbg, svc: l.svc, lvl: l.lvl, debug: l.debug, attrs: combined}
}
