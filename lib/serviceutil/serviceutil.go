package serviceutil

import (
	"log/slog"
	"os"
	"strconv"
)

func Fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}

// EnvOverride replaces *field with the value of env when it is set.
func EnvOverride(field *string, env string) {
	if val := os.Getenv(env); val != "" {
		*field = val
	}
}

// EnvOverrideInt is EnvOverride for integers, an unparsable value is fatal.
func EnvOverrideInt(field *int, env string) {
	val := os.Getenv(env)
	if val == "" {
		return
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		Fatal("invalid "+env, err)
	}
	*field = parsed
}
