package storage

// noopBadgerLogger silences badger's own internal logger; the engine logs
// through pkgs/logger at the call sites instead.
type noopBadgerLogger struct{}

func (*noopBadgerLogger) Errorf(string, ...interface{})   {}
func (*noopBadgerLogger) Warningf(string, ...interface{}) {}
func (*noopBadgerLogger) Infof(string, ...interface{})    {}
func (*noopBadgerLogger) Debugf(string, ...interface{})   {}
