package logging

import (
	"sync"
)

var (
	instance *Logger
	mu       sync.RWMutex
)

// InitLogger builds the global logger from config, replacing any previous one.
func InitLogger(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	logger, err := NewLogger(config)
	if err != nil {
		return err
	}

	SetGlobalLogger(logger)
	return nil
}

// SetGlobalLogger swaps the global logger. Used by tests to capture output.
func SetGlobalLogger(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil && instance != logger {
		_ = instance.Close()
	}
	instance = logger
}

// GetGlobalLogger returns the global logger.
// Before InitLogger is called it returns a console-only logger at info level.
func GetGlobalLogger() *Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		instance, _ = NewLogger(&Config{Level: LevelInfo})
	}
	return instance
}
