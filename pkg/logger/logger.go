package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type Logger struct {
	App  waLog.Logger
	HTTP waLog.Logger
}

// New builds the process loggers. format "json" emits structured zerolog
// lines; anything else uses the colored console writer.
func New(level, format string) *Logger {
	if level == "" {
		level = "INFO"
	}
	var app waLog.Logger
	if strings.EqualFold(format, "json") {
		app = waLog.Zerolog(newZerolog(os.Stdout, level).With().Str("module", "App").Logger())
	} else {
		app = waLog.Stdout("App", strings.ToUpper(level), os.Getenv("NO_COLOR") == "")
	}
	return &Logger{
		App:  app,
		HTTP: app.Sub("HTTP"),
	}
}

func newZerolog(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
