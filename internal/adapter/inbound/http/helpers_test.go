package http

import (
	"io"
	"log/slog"

	"github.com/sentinelgate/gateway/internal/domain/digest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDigester() *digest.Digester {
	return digest.New("test-salt")
}
