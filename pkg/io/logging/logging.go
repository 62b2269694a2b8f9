package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/log"
	"github.com/fatih/color"
)

type LogManager interface {
	SetVerboseLevel()
	SetDebugLevel()
	Debug(message interface{}, keyvals ...interface{})
	Info(message interface{}, keyvals ...interface{})
	Warn(message interface{}, keyvals ...interface{})
	Error(message interface{}, keyvals ...interface{})
	Fatal(message interface{}, keyvals ...interface{})
	PrintRed(s string)
	PrintDarkGreen(s string)
	PrintGreen(s string)
	PrintYellow(s string)
	PrintColored(s string, c color.Attribute)
	Spin(message string) (stop func())
}

type logManager struct {
	logger *log.Logger
	out    io.Writer
}

var logger *logManager
var once sync.Once

func GetLogManager() LogManager {
	once.Do(func() {
		logger = newLogManager(os.Stdout, log.WarnLevel)
	})

	return logger
}

// New returns a LogManager writing to w at info level, detached from the process-wide
// one. The process-wide manager starts at warn level until -v or -d raise it.
func New(w io.Writer) LogManager {
	return newLogManager(w, log.InfoLevel)
}

func newLogManager(w io.Writer, level log.Level) *logManager {
	return &logManager{
		out: w,
		logger: log.NewWithOptions(w, log.Options{
			CallerOffset:    1,
			Level:           level,
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.RFC1123,
		}),
	}
}

func (lm *logManager) SetVerboseLevel() {
	lm.logger.SetLevel(log.InfoLevel)
}

func (lm *logManager) SetDebugLevel() {
	lm.logger.SetLevel(log.DebugLevel)
}

func (lm *logManager) Debug(message interface{}, keyvals ...interface{}) {
	lm.logger.Debug(message, keyvals...)
}

func (lm *logManager) Info(message interface{}, keyvals ...interface{}) {
	lm.logger.Info(message, keyvals...)
}

func (lm *logManager) Warn(message interface{}, keyvals ...interface{}) {
	lm.logger.Warn(message, keyvals...)
}

func (lm *logManager) Error(message interface{}, keyvals ...interface{}) {
	lm.logger.Error(message, keyvals...)
}

// Fatal logs at error level and terminates the process. Only the cmd layer calls it.
func (lm *logManager) Fatal(message interface{}, keyvals ...interface{}) {
	lm.logger.Error(message, keyvals...)
	os.Exit(1)
}

func (lm *logManager) Spin(message string) func() {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(lm.out))
	s.Suffix = " " + message
	s.Start()
	return s.Stop
}

const indentSpaces = 4

func PrettyJSON(s interface{}) (data []byte) {
	data, err := json.MarshalIndent(s, "", strings.Repeat(" ", indentSpaces))
	if err != nil {
		if _, ok := err.(*json.UnsupportedTypeError); ok {
			return []byte("Tried to Marshal Invalid Type")
		}
		return []byte("Struct does not exist")
	}
	return
}
