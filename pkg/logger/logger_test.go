package logger_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	rcontext "github.com/fclpkg/fclrecipe/pkg/context"
	"github.com/fclpkg/fclrecipe/pkg/logger"
)

func TestCreateLogger(t *testing.T) {
	log := logger.CreateLogger("", "info")
	if log == nil {
		t.Fatal("expected logger to be created")
	}
}

func TestLogger_WithStage(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.WithStage("configure").Info("running cmake")

	output := buf.String()
	if !strings.Contains(output, "[configure]") {
		t.Errorf("expected stage prefix in log output, got %q", output)
	}
	if !strings.Contains(output, "running cmake") {
		t.Error("expected message in log output")
	}
}

func TestLogger_Success(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Success("package created")

	if !strings.Contains(buf.String(), "package created") {
		t.Error("expected success message in log output")
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Info("resolved",
		logger.WithField("zeta", 1),
		logger.WithField("alpha", "x"),
	)

	output := buf.String()
	if !strings.Contains(output, "{alpha=x, zeta=1}") {
		t.Errorf("expected sorted fields, got %q", output)
	}
}

func TestLogger_ErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "error", &buf)

	log.Debug("should not appear")
	log.Info("should not appear")
	log.Warn("should not appear")
	log.Error("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Error("lower level logs should not appear with error level")
	}
	if !strings.Contains(output, "should appear") {
		t.Error("error level log should appear")
	}
}

func TestLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "chatty", &buf)

	log.Debug("hidden")
	log.Info("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") || !strings.Contains(output, "visible") {
		t.Errorf("expected info level fallback, got %q", output)
	}
}

func TestLogger_FileTee(t *testing.T) {
	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "run.log")
	log := logger.CreateLoggerWithOutput(logFile, "info", &buf)

	log.Info("written twice")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written twice") {
		t.Error("expected message in log file")
	}
}

func TestWithContext_AddsRunID(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("", "info", &buf)

	ctx := rcontext.WithRunID(context.Background(), "run_test")
	ctx = rcontext.WithRecipe(ctx, "fcl/0.6.0RC")
	log := logger.WithContext(ctx, base).WithStage("build")

	log.Info("compiling")

	output := buf.String()
	for _, want := range []string{"run_id=run_test", "recipe=fcl/0.6.0RC", "[build]"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output %q", want, output)
		}
	}
}

func TestConsoleLogger(t *testing.T) {
	var out, errOut bytes.Buffer
	console := logger.NewConsoleLogger(&out, &errOut)

	console.Info("hello")
	console.Error("broken")

	if !strings.Contains(out.String(), "hello") {
		t.Error("expected info on stdout writer")
	}
	if !strings.Contains(errOut.String(), "broken") {
		t.Error("expected error on stderr writer")
	}
}
