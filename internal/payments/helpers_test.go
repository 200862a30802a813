package payments_test

import (
	"io"
	"log/slog"
	"strconv"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
