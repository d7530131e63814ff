/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package core

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/SSSOC-CAN/bdlog/utils"
	"github.com/mattn/go-colorable"
	color "github.com/mgutz/ansi"
	"github.com/rs/zerolog"
)

const (
	logFileExt = "log"
)

// subLogger is a thin-wrapper for the `zerolog.Logger` struct
type subLogger struct {
	SubLogger zerolog.Logger
	Subsystem string
}

// moddedFileWriter rotates through maxFiles files of at most maxFileSize bytes each
type moddedFileWriter struct {
	mu           sync.Mutex
	File         *os.File
	maxFileSize  int64 // bytes
	maxFiles     int64
	fileNameRoot string
	fileExt      string
	pathToFile   string
}

// Write Implements the io.Writer interface
func (w *moddedFileWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maxFiles <= 0 || w.maxFileSize <= 0 {
		return w.File.Write(p)
	}
	stat, err := w.File.Stat()
	if err != nil {
		return 0, err
	}
	// Check if maximum file size if exceeded
	if stat.Size()+int64(len(p)) >= w.maxFileSize {
		if err := w.rotate(stat.Name()); err != nil {
			return 0, err
		}
	}
	return w.File.Write(p)
}

// rotate closes the current file and opens the next one in the rotation, truncating it
func (w *moddedFileWriter) rotate(current string) error {
	r, err := regexp.Compile(fmt.Sprintf("^%s([0-9]+)\\.%s$", regexp.QuoteMeta(w.fileNameRoot), w.fileExt))
	if err != nil {
		return err
	}
	var fileNum int64
	if matches := r.FindStringSubmatch(current); len(matches) > 1 {
		fileNum, err = strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return err
		}
	}
	w.File.Close()
	var newFileName string
	if fileNum >= w.maxFiles-1 {
		newFileName = fmt.Sprintf("%s.%s", w.fileNameRoot, w.fileExt)
	} else {
		newFileName = fmt.Sprintf("%s%v.%s", w.fileNameRoot, fileNum+int64(1), w.fileExt)
	}
	newFile, err := os.OpenFile(filepath.Join(w.pathToFile, newFileName), os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0664)
	if err != nil {
		return err
	}
	w.File = newFile
	return nil
}

// log_level is a mapping of log levels as strings to structs from the zerolog package
var log_level = map[string]zerolog.Level{
	"INFO":  zerolog.InfoLevel,
	"WARN":  zerolog.WarnLevel,
	"PANIC": zerolog.PanicLevel,
	"FATAL": zerolog.FatalLevel,
	"ERROR": zerolog.ErrorLevel,
	"DEBUG": zerolog.DebugLevel,
	"TRACE": zerolog.TraceLevel,
}

// formatLevel colours the level column of the console output
func formatLevel(i interface{}) string {
	x := strings.ToLower(fmt.Sprintf("%v", i))
	tag := strings.ToUpper("[" + x + "]")
	var msg string
	switch x {
	case "info":
		msg = color.Color(tag, "green")
	case "panic", "fatal", "error":
		msg = color.Color(tag, "red")
	case "warn", "debug":
		msg = color.Color(tag, "yellow")
	case "trace":
		msg = color.Color(tag, "magenta")
	default:
		msg = tag
	}
	return msg + "\t"
}

// InitLogger creates a new instance of the `zerolog.Logger` type writing to `<daemon>.log`. If ConsoleOutput is true, it will output the logs to the console as well as the logfile
func InitLogger(config *Config) (zerolog.Logger, error) {
	root := string(config.Mode)
	if root == "" {
		root = appName
	}
	if err := os.MkdirAll(config.LogFileDir, 0775); err != nil {
		return zerolog.Logger{}, err
	}
	log_file, err := os.OpenFile(filepath.Join(config.LogFileDir, root+"."+logFileExt), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
	if err != nil {
		return zerolog.Logger{}, err
	}
	// use new modified writer
	modded_file := &moddedFileWriter{
		File:         log_file,
		maxFileSize:  config.MaxLogFileSize * 1000000, // converting to Bytes
		maxFiles:     config.MaxLogFiles,
		fileNameRoot: root,
		fileExt:      logFileExt,
		pathToFile:   config.LogFileDir,
	}
	var logger zerolog.Logger
	if config.ConsoleOutput {
		output := zerolog.NewConsoleWriter()
		if runtime.GOOS == "windows" {
			output.Out = colorable.NewColorableStdout()
		} else {
			output.Out = os.Stderr
		}
		output.FormatLevel = formatLevel
		multi := zerolog.MultiLevelWriter(output, modded_file)
		logger = zerolog.New(multi).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(modded_file).With().Timestamp().Logger()
	}
	if lvl, ok := log_level[strings.ToUpper(config.LogLevel)]; ok {
		logger = logger.Level(lvl)
	}
	logger = logger.With().Str("daemon", root).Str("version", utils.AppVersion).Logger()
	return logger, nil
}

// NewSubLogger takes a `zerolog.Logger` and string for the name of the subsystem and creates a `subLogger` for this subsystem
func NewSubLogger(l *zerolog.Logger, subsystem string) *subLogger {
	sub := l.With().Str("subsystem", subsystem).Logger()
	s := subLogger{
		SubLogger: sub,
		Subsystem: subsystem,
	}
	return &s
}
