package util

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	t.Setenv("TEST_BAD_INT", "-3")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_LIST", " http://a , ,http://b")

	if got := EnvInt("TEST_INT", 4); got != 12 {
		t.Fatalf("expected 12 got %d", got)
	}
	if got := EnvInt("TEST_BAD_INT", 4); got != 4 {
		t.Fatalf("expected fallback 4 got %d", got)
	}
	if got := EnvInt("TEST_MISSING", 7); got != 7 {
		t.Fatalf("expected fallback 7 got %d", got)
	}
	if !EnvBool("TEST_BOOL") || EnvBool("TEST_MISSING") {
		t.Fatalf("unexpected bool parsing")
	}
	if got := EnvString("TEST_MISSING", "x"); got != "x" {
		t.Fatalf("expected fallback x got %s", got)
	}
	list := EnvList("TEST_LIST")
	if len(list) != 2 || list[0] != "http://a" || list[1] != "http://b" {
		t.Fatalf("unexpected list %q", list)
	}
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	ConfigureLogging()
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level got %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter got %T", logrus.StandardLogger().Formatter)
	}
	logrus.SetFormatter(&logrus.TextFormatter{})
}
