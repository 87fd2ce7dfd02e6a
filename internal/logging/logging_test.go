package logging

import (
	"testing"

	"github.com/GifariKemal/iiot-gateway-core/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestInitBridgesErrorsIntoHistory(t *testing.T) {
	history := errs.NewHistory(10)
	cfg := DefaultConfig()
	cfg.LogDir = t.TempDir()

	require.NoError(t, Init(cfg, history))

	Get().Error("disk nearly full")

	recent := history.Recent(1)
	require.Len(t, recent, 1)
	if recent[0].Kind != errs.KindInternal {
		t.Fatalf("kind = %v, want %v", recent[0].Kind, errs.KindInternal)
	}
}

func TestGetFallsBackWithoutInit(t *testing.T) {
	globalLogger = nil
	logger := Get()
	if logger == nil {
		t.Fatal("expected a usable fallback logger")
	}
}
