package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	fileMu     sync.Mutex
	fileWriter *lumberjack.Logger
)

// EnableFileOutput mirrors log output into a rotating file under dir while
// keeping stdout. Safe to call more than once; later calls rotate to the new
// directory.
func EnableFileOutput(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	fileMu.Lock()
	defer fileMu.Unlock()

	if fileWriter != nil {
		_ = fileWriter.Close()
	}
	fileWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "studio-gateway.log"),
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}

	SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return nil
}

// CloseFileOutput stops file mirroring and returns output to stdout only.
func CloseFileOutput() {
	fileMu.Lock()
	defer fileMu.Unlock()

	if fileWriter == nil {
		return
	}
	_ = fileWriter.Close()
	fileWriter = nil
	SetOutput(os.Stdout)
}
