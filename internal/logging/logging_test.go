package logging

import "testing"

func TestNewJSONFormat(t *testing.T) {
	logger, closer := New("info", "json", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewTextFormat(t *testing.T) {
	logger, closer := New("debug", "text", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewDefaultsToJSONOnUnknownFormat(t *testing.T) {
	logger, closer := New("info", "unknown", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewWithFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer := New("warn", "text", dir+"/out.log")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Warn("hello from test")
}
