package logger

// NewNoop returns a Logger that discards everything. Used in tests and in
// any subsystem constructor call where the caller did not wire a real
// logger through explicitly.
func NewNoop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) SetToDebug()                               {}
func (noopLogger) SetToInfo()                                {}
func (noopLogger) SetToError()                                {}
func (n noopLogger) Module(ns string) Logger                  { return n }
func (noopLogger) Debug(msg string, keyValues ...interface{}) {}
func (noopLogger) Info(msg string, keyValues ...interface{})  {}
func (noopLogger) Warn(msg string, keyValues ...interface{})  {}
func (noopLogger) Error(msg string, keyValues ...interface{}) {}
func (noopLogger) Fatal(msg string, keyValues ...interface{}) {}
